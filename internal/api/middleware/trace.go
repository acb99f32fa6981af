package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/imagen-api/internal/api/shared"
)

// Trace attaches a trace ID to every request context. Apply it first so
// downstream handlers and error responses can correlate.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())

		slog.Debug("request started",
			"trace_id", shared.GetTraceID(ctx),
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
