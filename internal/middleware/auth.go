package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mihaisavezi/claude-code-bridge/internal/handlers"
)

// openPaths never require the proxy key.
var openPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

type AuthMiddleware struct {
	apiKey string
	logger *slog.Logger
}

// NewAuthMiddleware checks the proxy API key when one is configured. The key
// is accepted as a bearer token or in X-Api-Key.
func NewAuthMiddleware(apiKey string, logger *slog.Logger) Middleware {
	am := &AuthMiddleware{
		apiKey: apiKey,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Error("Authentication failed", "error", err, "remote_addr", r.RemoteAddr)
			handlers.WriteError(w, am.logger, http.StatusUnauthorized, "authentication_error", "proxy API key not authorized")

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) error {
	if am.apiKey == "" || openPaths[r.URL.Path] {
		return nil
	}

	var token string
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if apiKey := r.Header.Get("X-Api-Key"); apiKey != "" {
		token = apiKey
	}

	if token == "" {
		return errors.New("no authentication token provided")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(am.apiKey)) != 1 {
		return errors.New("invalid API key")
	}

	return nil
}
