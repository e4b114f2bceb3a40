package service

import (
	"context"
	"time"

	"amora/internal/model"
	"amora/internal/repository"

	"github.com/rs/zerolog"
)

// PermissionService is the messaging permission gate: it decides whether a
// sender may start a new conversation with a recipient. Pure read path, no
// side effects. A store read failure fails closed (returns an error, not an
// allow) because the gate protects conversation creation.
type PermissionService interface {
	CheckPermission(ctx context.Context, senderID, recipientID string) (*model.PermissionDecision, error)
}

type permissionService struct {
	repRepo repository.ReputationRepository
	loc     *time.Location
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPermissionService creates the gate. loc defines the calendar day the
// daily quota rolls over on.
func NewPermissionService(repRepo repository.ReputationRepository, loc *time.Location, logger zerolog.Logger) PermissionService {
	return &permissionService{
		repRepo: repRepo,
		loc:     loc,
		logger:  logger.With().Str("service", "PermissionService").Logger(),
		now:     time.Now,
	}
}

func (s *permissionService) CheckPermission(ctx context.Context, senderID, recipientID string) (*model.PermissionDecision, error) {
	sender, err := s.loadReputation(ctx, senderID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.loadReputation(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	day := model.DayKey(s.now(), s.loc)
	decision := &model.PermissionDecision{
		Allowed:    true,
		DailyLimit: sender.DailyLimit,
		Day:        day,
	}

	// Same or lower tier: always allowed, the counter is not involved.
	if model.CompareTiers(recipient.Tier, sender.Tier) <= 0 {
		return decision, nil
	}
	decision.CountsTowardLimit = true

	if sender.DailyLimit == model.UnlimitedConversations {
		return decision, nil
	}

	used := sender.ConversationsToday(day)
	if used < sender.DailyLimit {
		return decision, nil
	}

	s.logger.Info().
		Str("sender_id", senderID).
		Str("recipient_id", recipientID).
		Int("used", used).
		Int("limit", sender.DailyLimit).
		Msg("Daily higher-tier conversation limit reached")
	decision.Allowed = false
	decision.Reason = model.ReasonDailyLimitReached
	return decision, nil
}

// loadReputation fetches a reputation record, substituting the lowest-tier
// defaults when no record exists yet. Only a definitive "no row" gets the
// default; read errors propagate so the gate fails closed.
func (s *permissionService) loadReputation(ctx context.Context, userID string) (*model.UserReputation, error) {
	rep, err := s.repRepo.Get(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to read reputation record")
		return nil, err
	}
	if rep == nil {
		return model.NewUserReputation(userID), nil
	}
	return rep, nil
}
