package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/imagen-api/internal/api/shared"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/service/auth"
)

// AuthHandler serves registration and login.
type AuthHandler struct {
	authService   *auth.Service
	signupEnabled bool
	validate      *validator.Validate
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. When signupEnabled is false the
// registration endpoint is rejected outright.
func NewAuthHandler(authService *auth.Service, signupEnabled bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService:   authService,
		signupEnabled: signupEnabled,
		validate:      validator.New(),
		logger:        logger.With("component", "auth_handler"),
	}
}

// CreateUser handles POST /user/{username}.
func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if !h.signupEnabled {
		shared.RespondWithError(w, r, http.StatusForbidden, "Registration is disabled")
		return
	}

	username := chi.URLParam(r, "username")
	if username == "" || username == string(domain.DefaultUsername) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid username")
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Password must be 8-72 characters")
		return
	}

	err := h.authService.RegisterUser(r.Context(), domain.Username(username), req.Password)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		shared.RespondWithError(w, r, http.StatusConflict, "Username already taken")
		return
	case err != nil:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Registration failed", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, map[string]string{"username": username})
}

// IssueToken handles POST /token. An empty body or empty username
// requests an anonymous public-access token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid credentials format")
		return
	}

	if req.Username == "" {
		token, err := h.authService.IssuePublicToken()
		if errors.Is(err, auth.ErrPublicAccessDisabled) {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Credentials required")
			return
		}
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Login failed", err)
			return
		}
		shared.RespondWithJSON(w, r, http.StatusOK, TokenResponse{AccessToken: token})
		return
	}

	token, err := h.authService.IssueToken(r.Context(), domain.Username(req.Username), req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid username or password")
		return
	case err != nil:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Login failed", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TokenResponse{AccessToken: token})
}
