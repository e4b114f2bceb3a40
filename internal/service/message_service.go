package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"amora/internal/model"
	"amora/internal/pubsub"
	"amora/internal/repository"

	"github.com/rs/zerolog"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrNotParticipant    = errors.New("user is not a participant of this conversation")
	ErrDailyLimitReached = repository.ErrDailyLimitReached
)

// MessageService owns the gated send path. A first message to a new
// conversation goes through the permission gate and, when the recipient's
// tier is strictly higher, the counter increment is committed in the same
// transaction that persists the message. Messages into existing conversations
// are never gated and never counted.
type MessageService interface {
	// StartConversation sends the first message to recipientID. If a
	// conversation between the pair already exists the message is appended
	// without a gate check. Returns started=true only when a new conversation
	// was created.
	StartConversation(ctx context.Context, senderID, recipientID, body string) (conv *model.Conversation, msg *model.Message, started bool, err error)
	// SendMessage appends to an existing conversation.
	SendMessage(ctx context.Context, conversationID, senderID, body string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]model.Message, error)
	CheckPermission(ctx context.Context, senderID, recipientID string) (*model.PermissionDecision, error)
}

type messageService struct {
	convRepo      repository.ConversationRepository
	userRepo      repository.UserRepository
	permissionSvc PermissionService
	publisher     pubsub.Publisher
	startedTopic  string
	logger        zerolog.Logger
	now           func() time.Time
}

// NewMessageService creates a new MessageService. publisher may be nil when
// event fan-out is disabled.
func NewMessageService(
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	permissionSvc PermissionService,
	publisher pubsub.Publisher,
	startedTopic string,
	logger zerolog.Logger,
) MessageService {
	return &messageService{
		convRepo:      convRepo,
		userRepo:      userRepo,
		permissionSvc: permissionSvc,
		publisher:     publisher,
		startedTopic:  startedTopic,
		logger:        logger.With().Str("service", "MessageService").Logger(),
		now:           time.Now,
	}
}

func (s *messageService) CheckPermission(ctx context.Context, senderID, recipientID string) (*model.PermissionDecision, error) {
	return s.permissionSvc.CheckPermission(ctx, senderID, recipientID)
}

func (s *messageService) StartConversation(ctx context.Context, senderID, recipientID, body string) (*model.Conversation, *model.Message, bool, error) {
	recipient, err := s.userRepo.GetUserByID(ctx, recipientID)
	if err != nil {
		return nil, nil, false, err
	}
	if recipient == nil {
		return nil, nil, false, ErrUserNotFound
	}

	// Pre-existing threads are unrestricted regardless of tiers.
	existing, err := s.convRepo.FindByParticipants(ctx, senderID, recipientID)
	if err != nil {
		return nil, nil, false, err
	}
	if existing != nil {
		msg, err := s.convRepo.AppendMessage(ctx, existing.ID, senderID, body)
		if err != nil {
			return nil, nil, false, err
		}
		return existing, msg, false, nil
	}

	decision, err := s.permissionSvc.CheckPermission(ctx, senderID, recipientID)
	if err != nil {
		return nil, nil, false, err
	}
	if !decision.Allowed {
		return nil, nil, false, ErrDailyLimitReached
	}

	conv, msg, err := s.convRepo.StartConversation(ctx, repository.StartConversationParams{
		SenderID:          senderID,
		RecipientID:       recipientID,
		Body:              body,
		CountsTowardLimit: decision.CountsTowardLimit,
		DailyLimit:        decision.DailyLimit,
		Day:               decision.Day,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConversationExists) {
			// Raced with another first message for the same pair; the thread
			// exists now, so fall back to a plain append.
			return s.appendToExisting(ctx, senderID, recipientID, body)
		}
		return nil, nil, false, err
	}

	s.publishStarted(ctx, conv.ID, senderID, recipientID)
	return conv, msg, true, nil
}

func (s *messageService) appendToExisting(ctx context.Context, senderID, recipientID, body string) (*model.Conversation, *model.Message, bool, error) {
	conv, err := s.convRepo.FindByParticipants(ctx, senderID, recipientID)
	if err != nil {
		return nil, nil, false, err
	}
	if conv == nil {
		return nil, nil, false, repository.ErrConversationNotFound
	}
	msg, err := s.convRepo.AppendMessage(ctx, conv.ID, senderID, body)
	if err != nil {
		return nil, nil, false, err
	}
	return conv, msg, false, nil
}

func (s *messageService) SendMessage(ctx context.Context, conversationID, senderID, body string) (*model.Message, error) {
	conv, err := s.convRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}
	return s.convRepo.AppendMessage(ctx, conversationID, senderID, body)
}

func (s *messageService) ListMessages(ctx context.Context, conversationID, userID string, limit int) ([]model.Message, error) {
	conv, err := s.convRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return s.convRepo.ListMessages(ctx, conversationID, limit)
}

// publishStarted fans the conversation-started event out to downstream
// consumers. Best-effort: the message is already committed, so a publish
// failure is logged and swallowed.
func (s *messageService) publishStarted(ctx context.Context, conversationID, senderID, recipientID string) {
	if s.publisher == nil {
		return
	}
	ev := model.ConversationStartedEvent{
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		StartedAt:      s.now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to marshal conversation-started event")
		return
	}
	if _, err := s.publisher.Publish(ctx, s.startedTopic, payload); err != nil {
		s.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to publish conversation-started event")
	}
}
