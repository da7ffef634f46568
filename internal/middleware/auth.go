package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"tiergate/internal/model"
	"tiergate/internal/repository"
	"tiergate/internal/token"
)

// Injected key type to avoid context collisions
type contextKey string

const UserContextKey = contextKey("user")

// UserFromContext returns the user the auth gate resolved for this request.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*model.User)
	return u, ok
}

// AuthMiddleware verifies the bearer token and resolves the referenced user
// on every call. There is no session cache: the user record is re-fetched
// each time, so a tier change made by the webhook reconciler is visible on
// the very next request.
func AuthMiddleware(tokens *token.Issuer, users repository.UserRepository, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "No token provided")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeAuthError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}
			claims, err := tokens.VerifySession(parts[1])
			if err != nil {
				if errors.Is(err, token.ErrTokenExpired) {
					writeAuthError(w, http.StatusUnauthorized, "Token expired")
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			user, err := users.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				logger.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to resolve user for valid token")
				writeAuthError(w, http.StatusInternalServerError, "Failed to resolve user")
				return
			}
			if user == nil {
				logger.Warn().Str("user_id", claims.UserID).Msg("Valid token references a missing user")
				writeAuthError(w, http.StatusNotFound, "User not found")
				return
			}
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
