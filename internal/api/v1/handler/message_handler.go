package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"amora/internal/api/v1/dto"
	"amora/internal/middleware"
	"amora/internal/model"
	"amora/internal/repository"
	"amora/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// dailyLimitMessage is the user-facing denial text. Clients match on
// "daily limit" to show the try-again-tomorrow UI.
const dailyLimitMessage = "You have reached your daily limit for starting conversations with higher-tier members. Try again tomorrow."

// Message listing page size bounds.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// MessageHandler exposes the permission gate and the gated messaging routes.
type MessageHandler struct {
	messageSvc service.MessageService
	validate   *validator.Validate
	logger     zerolog.Logger
}

func NewMessageHandler(messageSvc service.MessageService, v *validator.Validate, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{messageSvc: messageSvc, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 messaging routes.
func (h *MessageHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/messaging/permission", authMw(http.HandlerFunc(h.checkPermission)))
	mux.Handle("/conversations", authMw(http.HandlerFunc(h.startConversation)))
	mux.Handle("/conversations/", authMw(http.HandlerFunc(h.handleConversationMessages)))
}

// checkPermission godoc
// @Summary May the sender start a new conversation with the recipient?
// @Description Pre-send gate check. Pure read, no side effects.
// @Tags messaging
// @Produce json
// @Param recipient_id query string true "Recipient user ID"
// @Success 200 {object} dto.PermissionResponseDTO
// @Router /messaging/permission [get]
func (h *MessageHandler) checkPermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	senderID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || senderID == "" {
		http.Error(w, "Unauthorized: user ID not found in context", http.StatusUnauthorized)
		return
	}
	recipientID := r.URL.Query().Get("recipient_id")
	if recipientID == "" {
		http.Error(w, "recipient_id query parameter is required", http.StatusBadRequest)
		return
	}

	decision, err := h.messageSvc.CheckPermission(r.Context(), senderID, recipientID)
	if err != nil {
		// Fail closed: a gate that cannot read the store must not allow.
		h.logger.Error().Err(err).Str("sender_id", senderID).Msg("Permission check failed")
		http.Error(w, "Failed to check permission", http.StatusInternalServerError)
		return
	}

	resp := dto.PermissionResponseDTO{Allowed: decision.Allowed, Reason: decision.Reason}
	if !decision.Allowed && decision.Reason == model.ReasonDailyLimitReached {
		resp.Message = dailyLimitMessage
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// startConversation godoc
// @Summary Send the first message of a new conversation
// @Description Gated by the sender's daily higher-tier limit. Appends without a gate when the pair already has a thread.
// @Tags messaging
// @Accept json
// @Produce json
// @Param message body dto.StartConversationDTO true "Recipient and first message"
// @Success 201 {object} dto.StartConversationResponseDTO
// @Failure 403 {object} dto.ErrorResponseDTO "DAILY_LIMIT_REACHED"
// @Router /conversations [post]
func (h *MessageHandler) startConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	senderID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || senderID == "" {
		http.Error(w, "Unauthorized: user ID not found in context", http.StatusUnauthorized)
		return
	}

	var req dto.StartConversationDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.RecipientID == senderID {
		http.Error(w, "Cannot start a conversation with yourself", http.StatusBadRequest)
		return
	}

	conv, msg, started, err := h.messageSvc.StartConversation(r.Context(), senderID, req.RecipientID, req.Body)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDailyLimitReached):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(dto.ErrorResponseDTO{
				Error:   model.ReasonDailyLimitReached,
				Message: dailyLimitMessage,
			})
		case errors.Is(err, service.ErrUserNotFound):
			http.Error(w, "Recipient not found", http.StatusNotFound)
		default:
			h.logger.Error().Err(err).Str("sender_id", senderID).Msg("Failed to start conversation")
			http.Error(w, "Failed to start conversation: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	resp := dto.StartConversationResponseDTO{
		ConversationID: conv.ID,
		Started:        started,
		Message:        toMessageDTO(msg),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// handleConversationMessages dispatches /conversations/{id}/messages.
func (h *MessageHandler) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "messages" {
		http.NotFound(w, r)
		return
	}
	conversationID := parts[0]

	switch r.Method {
	case http.MethodPost:
		h.sendMessage(w, r, conversationID)
	case http.MethodGet:
		h.listMessages(w, r, conversationID)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// sendMessage godoc
// @Summary Append a message to an existing conversation
// @Description Existing threads are never gated by the daily limit.
// @Tags messaging
// @Accept json
// @Produce json
// @Param message body dto.SendMessageDTO true "Message body"
// @Success 201 {object} dto.MessageResponseDTO
// @Router /conversations/{id}/messages [post]
func (h *MessageHandler) sendMessage(w http.ResponseWriter, r *http.Request, conversationID string) {
	senderID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || senderID == "" {
		http.Error(w, "Unauthorized: user ID not found in context", http.StatusUnauthorized)
		return
	}

	var req dto.SendMessageDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.messageSvc.SendMessage(r.Context(), conversationID, senderID, req.Body)
	if err != nil {
		h.writeMessageError(w, err, senderID, conversationID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toMessageDTO(msg))
}

func (h *MessageHandler) listMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: user ID not found in context", http.StatusUnauthorized)
		return
	}

	limit := defaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	msgs, err := h.messageSvc.ListMessages(r.Context(), conversationID, userID, limit)
	if err != nil {
		h.writeMessageError(w, err, userID, conversationID)
		return
	}

	resp := make([]dto.MessageResponseDTO, 0, len(msgs))
	for i := range msgs {
		resp = append(resp, toMessageDTO(&msgs[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *MessageHandler) writeMessageError(w http.ResponseWriter, err error, userID, conversationID string) {
	switch {
	case errors.Is(err, repository.ErrConversationNotFound):
		http.Error(w, "Conversation not found", http.StatusNotFound)
	case errors.Is(err, service.ErrNotParticipant):
		http.Error(w, "Not a participant of this conversation", http.StatusForbidden)
	default:
		h.logger.Error().Err(err).Str("user_id", userID).Str("conversation_id", conversationID).Msg("Message operation failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func toMessageDTO(msg *model.Message) dto.MessageResponseDTO {
	return dto.MessageResponseDTO{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt,
	}
}
