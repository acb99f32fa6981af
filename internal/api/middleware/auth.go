package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/phrazzld/imagen-api/internal/api/shared"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/service/auth"
)

// AuthMiddleware provides bearer-token authentication for routes.
type AuthMiddleware struct {
	authService *auth.Service
}

// NewAuthMiddleware creates an AuthMiddleware backed by the given auth
// service.
func NewAuthMiddleware(authService *auth.Service) *AuthMiddleware {
	return &AuthMiddleware{authService: authService}
}

// Authenticate validates the bearer token and puts the authenticated
// user on the request context. The token comes from the Authorization
// header, or from the "token" query parameter as a fallback for
// websocket clients that cannot set headers.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractToken(r)
		if !ok {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization required")
			return
		}

		user, err := m.authService.VerifyToken(token)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), shared.UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUser extracts the authenticated user from the request context.
func GetUser(r *http.Request) (domain.User, bool) {
	user, ok := r.Context().Value(shared.UserContextKey).(domain.User)
	return user, ok
}

func extractToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}
