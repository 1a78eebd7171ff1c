package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/modular_accounts/internal/events"
	"github.com/R3E-Network/modular_accounts/pkg/logger"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// TracingMiddleware tags every request with an id and logs it on completion.
// The id reaches the logger and the event log through the request context.
func TracingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			ctx := logger.ContextWithRequestID(r.Context(), id)
			ctx = events.WithRequestID(ctx, id)
			w.Header().Set(RequestIDHeader, id)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, started: time.Now()}
			next.ServeHTTP(rw, r.WithContext(ctx))

			log.WithContext(ctx).WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rw.statusCode,
				"duration": time.Since(rw.started).String(),
			}).Debug("request served")
		})
	}
}
