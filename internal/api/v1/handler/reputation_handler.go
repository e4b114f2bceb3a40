package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"amora/internal/api/v1/dto"
	"amora/internal/middleware"
	"amora/internal/model"
	"amora/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ReputationHandler exposes a user's own reputation and the admin surface the
// reputation recalculation process writes through.
type ReputationHandler struct {
	reputationSvc service.ReputationService
	loc           *time.Location
	validate      *validator.Validate
	logger        zerolog.Logger
	now           func() time.Time
}

func NewReputationHandler(reputationSvc service.ReputationService, loc *time.Location, v *validator.Validate, logger zerolog.Logger) *ReputationHandler {
	return &ReputationHandler{reputationSvc: reputationSvc, loc: loc, validate: v, logger: logger, now: time.Now}
}

// RegisterRoutes mounts v1 reputation routes.
func (h *ReputationHandler) RegisterRoutes(mux *http.ServeMux, authMw, adminMw func(http.Handler) http.Handler) {
	mux.Handle("/users/me/reputation", authMw(http.HandlerFunc(h.getOwnReputation)))
	mux.Handle("/admin/users/", authMw(adminMw(http.HandlerFunc(h.handleAdmin))))
}

// getOwnReputation godoc
// @Summary Get the authenticated user's reputation and remaining daily quota
// @Tags reputation
// @Produce json
// @Success 200 {object} dto.ReputationResponseDTO
// @Router /users/me/reputation [get]
func (h *ReputationHandler) getOwnReputation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: user ID not found in context", http.StatusUnauthorized)
		return
	}

	rep, err := h.reputationSvc.Get(r.Context(), userID)
	if err != nil {
		http.Error(w, "Failed to retrieve reputation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	day := model.DayKey(h.now(), h.loc)
	used := rep.ConversationsToday(day)
	remaining := model.UnlimitedConversations
	if rep.DailyLimit != model.UnlimitedConversations {
		remaining = rep.DailyLimit - used
		if remaining < 0 {
			remaining = 0
		}
	}

	resp := dto.ReputationResponseDTO{
		UserID:         rep.UserID,
		Tier:           string(rep.Tier),
		Score:          rep.Score,
		DailyLimit:     rep.DailyLimit,
		UsedToday:      used,
		RemainingToday: remaining,
		Date:           day,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleAdmin dispatches /admin/users/{id}/reputation[...] routes.
func (h *ReputationHandler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/users/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "reputation" {
		http.NotFound(w, r)
		return
	}
	userID := parts[0]

	switch {
	case len(parts) == 2 && r.Method == http.MethodPut:
		h.setReputation(w, r, userID)
	case len(parts) == 3 && parts[2] == "recalculate" && r.Method == http.MethodPost:
		h.recalculate(w, r, userID)
	default:
		http.NotFound(w, r)
	}
}

// setReputation godoc
// @Summary Set a user's tier and score directly (moderation override)
// @Tags reputation
// @Accept json
// @Param reputation body dto.AdminSetReputationDTO true "Tier and score"
// @Success 204
// @Router /admin/users/{id}/reputation [put]
func (h *ReputationHandler) setReputation(w http.ResponseWriter, r *http.Request, userID string) {
	var req dto.AdminSetReputationDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := h.reputationSvc.SetTier(r.Context(), userID, model.ReputationTier(req.Tier), req.Score, req.DailyLimit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTier) {
			http.Error(w, "Unknown tier: "+req.Tier, http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to set reputation")
		http.Error(w, "Failed to set reputation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recalculate godoc
// @Summary Reclassify a user from behavioral signals
// @Tags reputation
// @Accept json
// @Produce json
// @Param signals body dto.RecalculateReputationDTO true "Behavioral signals"
// @Success 200 {object} dto.ReputationResponseDTO
// @Router /admin/users/{id}/reputation/recalculate [post]
func (h *ReputationHandler) recalculate(w http.ResponseWriter, r *http.Request, userID string) {
	var req dto.RecalculateReputationDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	rep, err := h.reputationSvc.Recalculate(r.Context(), userID, model.ReputationSignals{
		ProfileCompletionPct: req.ProfileCompletionPct,
		Verified:             req.Verified,
		ResponseRate:         req.ResponseRate,
		BlocksReceived:       req.BlocksReceived,
		ReportsReceived:      req.ReportsReceived,
		AccountAgeDays:       req.AccountAgeDays,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to recalculate reputation")
		http.Error(w, "Failed to recalculate reputation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := dto.ReputationResponseDTO{
		UserID:     rep.UserID,
		Tier:       string(rep.Tier),
		Score:      rep.Score,
		DailyLimit: rep.DailyLimit,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
