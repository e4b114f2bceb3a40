package repository

import (
	"context"
	"errors"
	"fmt"

	"amora/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDailyLimitReached is returned when a sender has used up their daily
	// quota of new conversations with higher-tier users.
	ErrDailyLimitReached = errors.New("daily_limit_reached")
	// ErrConversationExists is returned when a conversation between the two
	// participants already exists.
	ErrConversationExists = errors.New("conversation_already_exists")
	// ErrConversationNotFound is returned for unknown conversation IDs.
	ErrConversationNotFound = errors.New("conversation_not_found")
)

// StartConversationParams describes a gated first message. The quota fields
// come from the permission gate's decision.
type StartConversationParams struct {
	SenderID    string
	RecipientID string
	Body        string

	// CountsTowardLimit is true when the recipient's tier strictly exceeds
	// the sender's.
	CountsTowardLimit bool
	// DailyLimit is the sender's cap; model.UnlimitedConversations disables it.
	DailyLimit int
	// Day is the quota day key the start is accounted under.
	Day string
}

// ConversationRepository persists conversations and messages. Starting a
// conversation, persisting its first message and accounting the sender's
// daily counter happen in one serializable transaction, so concurrent starts
// by the same sender cannot overshoot the limit.
type ConversationRepository interface {
	// FindByParticipants returns the conversation between the two users, or
	// nil if none exists. Participant order does not matter.
	FindByParticipants(ctx context.Context, a, b string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// StartConversation creates the conversation, persists the first message
	// and, when the start counts toward the limit, re-checks and increments
	// the sender's counter. Returns ErrDailyLimitReached when the quota is
	// exhausted and ErrConversationExists when the pair already has a thread.
	StartConversation(ctx context.Context, p StartConversationParams) (*model.Conversation, *model.Message, error)
	// AppendMessage adds a message to an existing conversation. Never gated.
	AppendMessage(ctx context.Context, conversationID, senderID, body string) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	MessageCount(ctx context.Context, conversationID string) (int, error)
}

type conversationRepo struct {
	pool *pgxpool.Pool
}

// NewConversationRepo creates a new ConversationRepository.
func NewConversationRepo(pool *pgxpool.Pool) ConversationRepository {
	return &conversationRepo{pool: pool}
}

const conversationColumns = `id, participant_low, participant_high, created_at, last_message_at`

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var conv model.Conversation
	err := row.Scan(
		&conv.ID,
		&conv.ParticipantLow,
		&conv.ParticipantHigh,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) FindByParticipants(ctx context.Context, a, b string) (*model.Conversation, error) {
	low, high := model.NormalizePair(a, b)
	q := fmt.Sprintf(`
		SELECT %s
		FROM conversations
		WHERE participant_low = $1 AND participant_high = $2
	`, conversationColumns)
	conv, err := scanConversation(r.pool.QueryRow(ctx, q, low, high))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding conversation for pair (%s, %s): %w", low, high, err)
	}
	return conv, nil
}

func (r *conversationRepo) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	q := fmt.Sprintf(`
		SELECT %s
		FROM conversations
		WHERE id = $1
	`, conversationColumns)
	conv, err := scanConversation(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return conv, nil
}

func (r *conversationRepo) StartConversation(ctx context.Context, p StartConversationParams) (*model.Conversation, *model.Message, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, nil, fmt.Errorf("starting transaction for conversation start: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Re-check the sender's quota under the transaction. The gate's earlier
	// read may be stale when two starts race; the row lock serializes them.
	if p.CountsTowardLimit && p.DailyLimit != model.UnlimitedConversations {
		const quotaQ = `
			SELECT higher_tier_conversations_today, COALESCE(last_conversation_date, '')
			FROM user_reputation
			WHERE user_id = $1
			FOR UPDATE
		`
		var count int
		var lastDate string
		err := tx.QueryRow(ctx, quotaQ, p.SenderID).Scan(&count, &lastDate)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("reading quota for user %s: %w", p.SenderID, err)
		}
		if lastDate != p.Day {
			count = 0
		}
		if count >= p.DailyLimit {
			return nil, nil, ErrDailyLimitReached
		}
	}

	low, high := model.NormalizePair(p.SenderID, p.RecipientID)
	insertConvQ := fmt.Sprintf(`
		INSERT INTO conversations (participant_low, participant_high)
		VALUES ($1, $2)
		ON CONFLICT (participant_low, participant_high) DO NOTHING
		RETURNING %s
	`, conversationColumns)
	conv, err := scanConversation(tx.QueryRow(ctx, insertConvQ, low, high))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race against another first message for the same pair.
			return nil, nil, ErrConversationExists
		}
		return nil, nil, fmt.Errorf("creating conversation for pair (%s, %s): %w", low, high, err)
	}

	msg, err := insertMessage(ctx, tx, conv.ID, p.SenderID, p.Body)
	if err != nil {
		return nil, nil, err
	}
	conv.LastMessageAt = &msg.CreatedAt

	if p.CountsTowardLimit {
		if _, err := applyConversationStart(ctx, tx, p.SenderID, conv.ID, p.Day); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("committing conversation start: %w", err)
	}
	return conv, msg, nil
}

func (r *conversationRepo) AppendMessage(ctx context.Context, conversationID, senderID, body string) (*model.Message, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("starting transaction for message append: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	msg, err := insertMessage(ctx, tx, conversationID, senderID, body)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message append: %w", err)
	}
	return msg, nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, conversationID, senderID, body string) (*model.Message, error) {
	const q = `
		INSERT INTO messages (conversation_id, sender_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, conversation_id, sender_id, body, created_at
	`
	var msg model.Message
	err := tx.QueryRow(ctx, q, conversationID, senderID, body).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Body,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message into conversation %s: %w", conversationID, err)
	}

	const touchQ = `UPDATE conversations SET last_message_at = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, touchQ, conversationID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("updating conversation %s last message time: %w", conversationID, err)
	}
	return &msg, nil
}

func (r *conversationRepo) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	const q = `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	// Reverse so callers get oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *conversationRepo) MessageCount(ctx context.Context, conversationID string) (int, error) {
	const q = `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`
	var count int
	if err := r.pool.QueryRow(ctx, q, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting messages for conversation %s: %w", conversationID, err)
	}
	return count, nil
}
