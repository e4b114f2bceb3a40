package service

import (
	"context"
	"errors"
	"time"

	"amora/internal/model"
	"amora/internal/repository"

	"github.com/rs/zerolog"
)

// ErrInvalidTier is returned when a tier name outside the ladder is supplied.
var ErrInvalidTier = errors.New("invalid reputation tier")

// ReputationService owns the reputation record lifecycle: creation with the
// account, tier recalculation input, admin overrides, and the event-path
// counter accounting.
type ReputationService interface {
	// EnsureRecord creates the default record (tier new, counter 0) if the
	// user has none yet.
	EnsureRecord(ctx context.Context, userID string) error
	// Get returns the user's record, substituting lowest-tier defaults for a
	// missing row.
	Get(ctx context.Context, userID string) (*model.UserReputation, error)
	// SetTier applies an externally computed tier and score. dailyLimit
	// overrides the tier default when non-nil.
	SetTier(ctx context.Context, userID string, tier model.ReputationTier, score int, dailyLimit *int) error
	// Recalculate classifies the given signals and stores the result.
	Recalculate(ctx context.Context, userID string, signals model.ReputationSignals) (*model.UserReputation, error)
	// ApplyConversationStarted handles a first-message-persisted event from an
	// external writer: increments the sender's counter when the recipient's
	// tier is strictly higher. Idempotent per conversation.
	ApplyConversationStarted(ctx context.Context, ev model.ConversationStartedEvent) error
}

type reputationService struct {
	repRepo repository.ReputationRepository
	tierSvc TierService
	loc     *time.Location
	logger  zerolog.Logger
	now     func() time.Time
}

// NewReputationService creates a new ReputationService.
func NewReputationService(repRepo repository.ReputationRepository, tierSvc TierService, loc *time.Location, logger zerolog.Logger) ReputationService {
	return &reputationService{
		repRepo: repRepo,
		tierSvc: tierSvc,
		loc:     loc,
		logger:  logger.With().Str("service", "ReputationService").Logger(),
		now:     time.Now,
	}
}

func (s *reputationService) EnsureRecord(ctx context.Context, userID string) error {
	if err := s.repRepo.Create(ctx, model.NewUserReputation(userID)); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create reputation record")
		return err
	}
	return nil
}

func (s *reputationService) Get(ctx context.Context, userID string) (*model.UserReputation, error) {
	rep, err := s.repRepo.Get(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch reputation record")
		return nil, err
	}
	if rep == nil {
		return model.NewUserReputation(userID), nil
	}
	return rep, nil
}

func (s *reputationService) SetTier(ctx context.Context, userID string, tier model.ReputationTier, score int, dailyLimit *int) error {
	if !tier.Valid() {
		return ErrInvalidTier
	}
	limit := tier.DailyHigherTierLimit()
	if dailyLimit != nil {
		limit = *dailyLimit
	}
	if err := s.repRepo.SetTier(ctx, userID, tier, score, limit); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("tier", string(tier)).Msg("Failed to set tier")
		return err
	}
	s.logger.Info().Str("user_id", userID).Str("tier", string(tier)).Int("score", score).Int("daily_limit", limit).Msg("Reputation tier updated")
	return nil
}

func (s *reputationService) Recalculate(ctx context.Context, userID string, signals model.ReputationSignals) (*model.UserReputation, error) {
	tier, score := s.tierSvc.Classify(signals)
	if err := s.SetTier(ctx, userID, tier, score, nil); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func (s *reputationService) ApplyConversationStarted(ctx context.Context, ev model.ConversationStartedEvent) error {
	sender, err := s.Get(ctx, ev.SenderID)
	if err != nil {
		return err
	}
	recipient, err := s.Get(ctx, ev.RecipientID)
	if err != nil {
		return err
	}

	// Only starts toward a strictly higher tier are counted.
	if model.CompareTiers(recipient.Tier, sender.Tier) <= 0 {
		return nil
	}

	day := model.DayKey(s.now(), s.loc)
	count, err := s.repRepo.ApplyConversationStart(ctx, ev.SenderID, ev.ConversationID, day)
	if err != nil {
		if errors.Is(err, repository.ErrCounterAlreadyApplied) {
			// Redelivery, or the start was already accounted in the send
			// transaction.
			return nil
		}
		s.logger.Error().Err(err).
			Str("sender_id", ev.SenderID).
			Str("conversation_id", ev.ConversationID).
			Msg("Failed to apply conversation-start increment")
		return err
	}
	s.logger.Info().
		Str("sender_id", ev.SenderID).
		Str("conversation_id", ev.ConversationID).
		Int("count", count).
		Msg("Higher-tier conversation counted")
	return nil
}
