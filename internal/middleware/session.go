package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aviz85/gemini-video-playground/internal/auth"
	"github.com/aviz85/gemini-video-playground/internal/logging"
)

// Authenticator resolves access tokens to sessions.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (auth.Session, error)
}

// RequireSession rejects requests without a valid bearer access token and
// attaches the resolved session to the request context.
func RequireSession(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := BearerToken(r)
			if token == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			session, err := authenticator.Authenticate(ctx, token)
			switch {
			case errors.Is(err, auth.ErrAccessTokenExpired):
				unauthorized(w, "access token expired")
				return
			case errors.Is(err, auth.ErrSessionNotFound):
				unauthorized(w, "invalid access token")
				return
			case err != nil:
				logging.FromContext(ctx).Error("authenticate request", "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unable to authenticate request"})
				return
			}

			ctx = auth.WithSession(ctx, session)
			ctx = logging.With(ctx, "user_id", session.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
