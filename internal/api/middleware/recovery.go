package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/probelab/stacktrap/internal/api/response"
)

// Recovery converts a handler panic into a 500 instead of killing the
// connection. It sits inside Logger, so the request id is already on the
// response headers and the panic line can be correlated with the access log.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			slog.Error("panic recovered",
				"request_id", w.Header().Get("X-Request-Id"),
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
