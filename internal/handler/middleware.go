package handler

import (
	"context"
	"errors"
	"net/http"

	"unisocial-auth/internal/service"
)

type contextKey string

const subjectContextKey contextKey = "auth.subject"

// SubjectFromContext returns the authenticated subject set by RequireAuth,
// or "" when the request never passed through it.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectContextKey).(string)
	return subject
}

// RequireAuth validates the bearer token on every protected request:
// signature, expiry, then the revocation blacklist. When the blacklist cannot
// be consulted the request is rejected with 503 rather than letting a
// possibly revoked token through.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, err, "Missing token")
			return
		}

		subject, err := h.authService.Authenticate(r.Context(), tokenString)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrTokenExpired):
				h.respondWithError(w, http.StatusUnauthorized, err, "Token expired")
			case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrTokenRevoked):
				h.respondWithError(w, http.StatusUnauthorized, err, "Invalid token")
			default:
				h.respondWithError(w, http.StatusServiceUnavailable, err, "Unable to validate token")
			}
			return
		}

		ctx := context.WithValue(r.Context(), subjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
