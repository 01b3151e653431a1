package auth

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/stk-gateway/internal/common"
)

// Middleware guards client-facing endpoints with bearer tokens.
type Middleware struct {
	Verifier *Verifier
	Logger   zerolog.Logger
}

// RequireAuth enforces that a valid token is present before executing the next
// handler. A nil Verifier disables the check.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	if m.Verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		clientID, err := m.Verifier.Verify(token)
		if err != nil {
			m.Logger.Debug().Err(err).Str("path", r.URL.Path).Msg("auth_rejected")
			common.WriteAppError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithClientID(r.Context(), clientID)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
