package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/clerk/clerk-sdk-go/v2/jwt"

	"readySchoolsAPI/internal/apperr"
	"readySchoolsAPI/internal/logger"
)

type contextKey string

// OwnerIDKey holds the Clerk subject of the signed in teacher. Every
// assessment and leaderboard is scoped to it.
const OwnerIDKey contextKey = "ownerID"

// TokenVerifier returns the subject of a valid session token.
type TokenVerifier func(ctx context.Context, token string) (string, error)

// ClerkVerifier verifies Clerk session JWTs. clerk.SetKey must have been called.
func ClerkVerifier(ctx context.Context, token string) (string, error) {
	claims, err := jwt.Verify(ctx, &jwt.VerifyParams{
		Token: token,
	})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// OwnerAuthMiddleware validates the bearer token and stores the owner id in
// the request context. Browsers cannot set headers on a websocket handshake,
// so a "token" query parameter is accepted as well.
func OwnerAuthMiddleware(verify TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				token = strings.TrimPrefix(authHeader, "Bearer ")
				if token == authHeader {
					respondWithError(w, http.StatusUnauthorized, "Invalid authorization format. Use 'Bearer <token>'")
					return
				}
			}
			if token == "" {
				respondWithError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			subject, err := verify(r.Context(), token)
			if err != nil || subject == "" {
				log.Debug("token verification failed", "path", r.URL.Path, "error", err)
				respondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), subject)))
		})
	}
}

func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, OwnerIDKey, ownerID)
}

// GetOwnerID extracts the owner id from context.
func GetOwnerID(ctx context.Context) (string, error) {
	ownerID, ok := ctx.Value(OwnerIDKey).(string)
	if !ok || ownerID == "" {
		return "", apperr.ErrNotAuthenticated
	}
	return ownerID, nil
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
