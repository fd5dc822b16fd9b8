package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flowpbx/callcore/internal/auth"
)

type contextKey string

const peerKey contextKey = "peer"

// errorEnvelope mirrors the api package's response shape so middleware
// rejections look like handler errors.
type errorEnvelope struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: msg}) //nolint:errcheck
}

// RequireBearer returns middleware that accepts only requests carrying a
// valid "Authorization: Bearer <token>" signed with secret. The token's
// subject is stored in the request context (see PeerFromContext).
//
// A nil or empty secret disables the check; every request passes through.
func RequireBearer(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := auth.ParseToken(secret, raw)
			if err != nil {
				slog.Debug("rejected bearer token",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), peerKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PeerFromContext returns the authenticated peer name, or "" when the
// request was not authenticated.
func PeerFromContext(ctx context.Context) string {
	s, _ := ctx.Value(peerKey).(string)
	return s
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}
