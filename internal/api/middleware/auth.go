package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/probelab/stacktrap/internal/api/response"
)

// AdminAuth guards the admin route group with a single bearer token.
// Project keys are public ingestion credentials and are checked by the
// engine, not here.
type AdminAuth struct {
	token string
}

func NewAdminAuth(token string) *AdminAuth {
	return &AdminAuth{token: token}
}

// Require rejects requests whose bearer token does not match, comparing in
// constant time.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" || a.token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
