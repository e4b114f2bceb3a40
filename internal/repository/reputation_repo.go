package repository

import (
	"context"
	"errors"
	"fmt"

	"amora/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCounterAlreadyApplied is returned when a conversation-start increment has
// already been recorded for the given conversation, e.g. on event redelivery.
var ErrCounterAlreadyApplied = errors.New("counter_already_applied")

// ReputationRepository persists per-user reputation records and their daily
// higher-tier conversation counters.
type ReputationRepository interface {
	// Get returns the user's reputation record, or nil if none exists.
	Get(ctx context.Context, userID string) (*model.UserReputation, error)
	// Create inserts a new reputation record. No-op if one already exists.
	Create(ctx context.Context, rep *model.UserReputation) error
	// SetTier updates tier, score and daily limit for a user.
	SetTier(ctx context.Context, userID string, tier model.ReputationTier, score, dailyLimit int) error
	// ApplyConversationStart atomically increments the user's counter for the
	// given day, resetting it first when the stored day differs. A user
	// without a record gets the default one created. The increment is
	// recorded at most once per conversation; a repeat returns
	// ErrCounterAlreadyApplied.
	ApplyConversationStart(ctx context.Context, userID, conversationID, day string) (int, error)
}

type reputationRepo struct {
	pool *pgxpool.Pool
}

// NewReputationRepo creates a new ReputationRepository.
func NewReputationRepo(pool *pgxpool.Pool) ReputationRepository {
	return &reputationRepo{pool: pool}
}

func (r *reputationRepo) Get(ctx context.Context, userID string) (*model.UserReputation, error) {
	const q = `
		SELECT user_id, tier, score, daily_limit, higher_tier_conversations_today,
		       COALESCE(last_conversation_date, ''), updated_at
		FROM user_reputation
		WHERE user_id = $1
	`
	var rep model.UserReputation
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&rep.UserID,
		&rep.Tier,
		&rep.Score,
		&rep.DailyLimit,
		&rep.HigherTierConversationsToday,
		&rep.LastConversationDate,
		&rep.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting reputation for user %s: %w", userID, err)
	}
	return &rep, nil
}

func (r *reputationRepo) Create(ctx context.Context, rep *model.UserReputation) error {
	const q = `
		INSERT INTO user_reputation (user_id, tier, score, daily_limit, higher_tier_conversations_today, last_conversation_date)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, q,
		rep.UserID, rep.Tier, rep.Score, rep.DailyLimit,
		rep.HigherTierConversationsToday, rep.LastConversationDate,
	); err != nil {
		return fmt.Errorf("creating reputation for user %s: %w", rep.UserID, err)
	}
	return nil
}

func (r *reputationRepo) SetTier(ctx context.Context, userID string, tier model.ReputationTier, score, dailyLimit int) error {
	const q = `
		UPDATE user_reputation
		SET tier = $2, score = $3, daily_limit = $4, updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := r.pool.Exec(ctx, q, userID, tier, score, dailyLimit)
	if err != nil {
		return fmt.Errorf("setting tier for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		// Record missing, e.g. backfill lag. Insert it with the new tier.
		rep := model.NewUserReputation(userID)
		rep.Tier = tier
		rep.Score = score
		rep.DailyLimit = dailyLimit
		return r.Create(ctx, rep)
	}
	return nil
}

// ApplyConversationStart runs in a single transaction: a dedup insert keyed by
// conversation ID, then a conditional counter update. The CASE expression
// performs the lazy day reset on write, so no scheduled job is needed and
// concurrent increments cannot lose updates.
func (r *reputationRepo) ApplyConversationStart(ctx context.Context, userID, conversationID, day string) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("starting transaction for counter increment: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	count, err := applyConversationStart(ctx, tx, userID, conversationID, day)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing counter increment for user %s: %w", userID, err)
	}
	return count, nil
}

// applyConversationStart performs the dedup insert and conditional increment
// inside the caller's transaction. Shared with the conversation repository so
// the gated send path can account the start in the same transaction that
// persists the first message. A sender without a reputation row gets the
// default record first, matching the gate's treatment of missing rows as
// tier new.
func applyConversationStart(ctx context.Context, tx pgx.Tx, userID, conversationID, day string) (int, error) {
	const dedupQ = `
		INSERT INTO conversation_start_events (conversation_id, sender_id, quota_day)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, dedupQ, conversationID, userID, day)
	if err != nil {
		return 0, fmt.Errorf("recording conversation start %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrCounterAlreadyApplied
	}

	defaults := model.NewUserReputation(userID)
	const ensureQ = `
		INSERT INTO user_reputation (user_id, tier, score, daily_limit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, ensureQ, defaults.UserID, defaults.Tier, defaults.Score, defaults.DailyLimit); err != nil {
		return 0, fmt.Errorf("ensuring reputation record for user %s: %w", userID, err)
	}

	const incrQ = `
		UPDATE user_reputation
		SET higher_tier_conversations_today = CASE
		        WHEN last_conversation_date = $2 THEN higher_tier_conversations_today + 1
		        ELSE 1
		    END,
		    last_conversation_date = $2,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING higher_tier_conversations_today
	`
	var count int
	if err := tx.QueryRow(ctx, incrQ, userID, day).Scan(&count); err != nil {
		return 0, fmt.Errorf("incrementing counter for user %s: %w", userID, err)
	}
	return count, nil
}
