package dto

import "time"

// StartConversationDTO sends the first message to another user.
type StartConversationDTO struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	Body        string `json:"body" validate:"required,max=4000"`
}

// SendMessageDTO appends a message to an existing conversation.
type SendMessageDTO struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// MessageResponseDTO is a single message.
type MessageResponseDTO struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// StartConversationResponseDTO is returned after a gated send.
type StartConversationResponseDTO struct {
	ConversationID string             `json:"conversation_id"`
	Started        bool               `json:"started"`
	Message        MessageResponseDTO `json:"message"`
}

// PermissionResponseDTO is the pre-send gate result. Message is the
// user-facing text for a denial.
type PermissionResponseDTO struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponseDTO is a machine-readable error body.
type ErrorResponseDTO struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
