package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/mihaisavezi/claude-code-bridge/internal/handlers"
)

// NewRecoverMiddleware turns a handler panic into a 500 canonical error so
// one bad request does not take the process down. Nothing is written when
// the response already started.
func NewRecoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrap(w)
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.Error("Handler panic", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				if !wrapped.wroteHeader {
					handlers.WriteError(wrapped, logger, http.StatusInternalServerError, "api_error", fmt.Sprintf("internal error: %v", rec))
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}
