package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/multimodal/internal/auth"
)

const unauthorizedBody = `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`

// Auth authenticates a session token from the Authorization header or, for
// clients that cannot set headers (browsers opening an EventSource or the
// viewer page), from the "token" query parameter.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				tok = r.URL.Query().Get("token")
			}
			if tok == "" {
				http.Error(w, unauthorizedBody, http.StatusUnauthorized)
				return
			}

			claims, err := auth.ValidateToken(secret, tok)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("middleware: rejected token")
				http.Error(w, unauthorizedBody, http.StatusUnauthorized)
				return
			}
			sessionID, err := claims.SessionUUID()
			if err != nil {
				http.Error(w, unauthorizedBody, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sessionID, claims.Channel)))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	return ""
}
