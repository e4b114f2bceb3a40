package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"amora/internal/api/v1/dto"
	"amora/internal/middleware"
	"amora/internal/model"
	"amora/internal/repository"
	"amora/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type UserHandler struct {
	userRepo      repository.UserRepository
	reputationSvc service.ReputationService
	validate      *validator.Validate
	logger        zerolog.Logger
}

func NewUserHandler(userRepo repository.UserRepository, reputationSvc service.ReputationService, v *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{userRepo: userRepo, reputationSvc: reputationSvc, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 user routes
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/users/me", authMw(http.HandlerFunc(h.handleUsers)))
}

func (h *UserHandler) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createUser(w, r)
	case http.MethodGet:
		h.getUser(w, r)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// createUser godoc
// @Summary Create the authenticated user's profile
// @Description Creates the profile row and the default reputation record (tier "new", counter 0).
// @Tags users
// @Accept json
// @Produce json
// @Param user body dto.UserCreateDTO true "Profile"
// @Success 201 {object} dto.UserResponseDTO
// @Router /users/me [post]
func (h *UserHandler) createUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	var req dto.UserCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	user := &model.User{
		UserID:    userID,
		Name:      req.Name,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
	}
	if err := h.userRepo.CreateUser(r.Context(), user); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create user profile")
		http.Error(w, "Failed to create user: "+err.Error(), http.StatusInternalServerError)
		return
	}

	// Account creation is the reputation record's lifecycle hook.
	if err := h.reputationSvc.EnsureRecord(r.Context(), userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create reputation record")
		http.Error(w, "Failed to initialize reputation: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := dto.UserResponseDTO{
		UserID:    user.UserID,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (h *UserHandler) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "User ID not found in context", http.StatusUnauthorized)
		return
	}

	user, err := h.userRepo.GetUserByID(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, errors.New("user not found").Error(), http.StatusNotFound)
		return
	}

	resp := dto.UserResponseDTO{
		UserID:    user.UserID,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
