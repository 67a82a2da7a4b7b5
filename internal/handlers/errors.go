package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/claude-code-bridge/internal/providers"
	"github.com/mihaisavezi/claude-code-bridge/internal/transcoder"
)

// writeError writes a canonical JSON error body.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, errType, message string) {
	w.Header().Set("Content-Type", providers.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(transcoder.ErrorBody(errType, message)); err != nil {
		logger.Error("Failed to write error response", "error", err)
	}
}

// WriteError is writeError for other packages' handlers.
func WriteError(w http.ResponseWriter, logger *slog.Logger, status int, errType, message string) {
	if logger == nil {
		logger = slog.Default()
	}
	writeError(w, logger, status, errType, message)
}
