package model

import "time"

// Conversation is a 1:1 thread keyed by the unordered pair of participants.
// The pair is stored normalized (low < high lexicographically) so the same two
// users always map to the same row.
type Conversation struct {
	ID              string     `db:"id" json:"id"`
	ParticipantLow  string     `db:"participant_low" json:"participant_low"`
	ParticipantHigh string     `db:"participant_high" json:"participant_high"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	LastMessageAt   *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
}

// NormalizePair orders two participant IDs into their storage order.
func NormalizePair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantLow == userID || c.ParticipantHigh == userID
}

// PeerOf returns the other participant. Empty if userID is not in the
// conversation.
func (c *Conversation) PeerOf(userID string) string {
	switch userID {
	case c.ParticipantLow:
		return c.ParticipantHigh
	case c.ParticipantHigh:
		return c.ParticipantLow
	default:
		return ""
	}
}

// Message is a single message inside a conversation.
type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	SenderID       string    `db:"sender_id" json:"sender_id"`
	Body           string    `db:"body" json:"body"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ConversationStartedEvent is published when the first message of a
// conversation is persisted. Consumers use it to account the sender's daily
// higher-tier counter.
type ConversationStartedEvent struct {
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	StartedAt      time.Time `json:"started_at"`
}
