package handler

import (
	"encoding/json"
	"net/http"

	"amora/internal/api/v1/dto"
	"amora/internal/model"
	"amora/internal/pgmq"
	"amora/internal/service"

	"github.com/rs/zerolog"
)

// EventHandler receives Pub/Sub push deliveries for first messages persisted
// by writers outside this service and applies the counter increment. The
// increment is best-effort: a failure is parked on the retry queue and the
// delivery is still acked, so accounting never blocks message delivery.
type EventHandler struct {
	reputationSvc service.ReputationService
	queue         *pgmq.Client
	retryQueue    string
	logger        zerolog.Logger
}

func NewEventHandler(reputationSvc service.ReputationService, queue *pgmq.Client, retryQueue string, logger zerolog.Logger) *EventHandler {
	return &EventHandler{reputationSvc: reputationSvc, queue: queue, retryQueue: retryQueue, logger: logger}
}

// RegisterRoutes mounts the push endpoint behind the Pub/Sub auth middleware.
func (h *EventHandler) RegisterRoutes(mux *http.ServeMux, pubsubAuthMw func(http.Handler) http.Handler) {
	mux.Handle("/events/conversation-started", pubsubAuthMw(http.HandlerFunc(h.conversationStarted)))
}

func (h *EventHandler) conversationStarted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var push dto.PubSubPushRequest
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		h.logger.Error().Err(err).Msg("Failed to decode Pub/Sub push envelope")
		http.Error(w, "Invalid push envelope", http.StatusBadRequest)
		return
	}

	var ev model.ConversationStartedEvent
	if err := json.Unmarshal(push.Message.Data, &ev); err != nil {
		// Unparseable payloads are acked; redelivery cannot fix them.
		h.logger.Error().Err(err).Str("message_id", push.Message.MessageID).Msg("Failed to unmarshal conversation-started event; dropping")
		w.WriteHeader(http.StatusOK)
		return
	}
	if ev.ConversationID == "" || ev.SenderID == "" || ev.RecipientID == "" {
		h.logger.Warn().Str("message_id", push.Message.MessageID).Msg("Conversation-started event missing required fields; dropping")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.reputationSvc.ApplyConversationStarted(r.Context(), ev); err != nil {
		h.logger.Error().Err(err).
			Str("conversation_id", ev.ConversationID).
			Msg("Counter increment failed; parking event on retry queue")
		if qErr := h.queue.Send(r.Context(), h.retryQueue, push.Message.Data); qErr != nil {
			h.logger.Error().Err(qErr).Str("conversation_id", ev.ConversationID).Msg("Failed to enqueue counter retry")
		}
	}

	// Always ack: counter accounting is best-effort relative to delivery.
	w.WriteHeader(http.StatusOK)
}
