package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/providers"
	"github.com/mihaisavezi/claude-code-bridge/internal/tokens"
)

// CountTokensHandler asks the routed backend for an input token count and
// falls back to a length estimate of the body.
type CountTokensHandler struct {
	router Router
	logger *slog.Logger
}

func NewCountTokensHandler(router Router, logger *slog.Logger) *CountTokensHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CountTokensHandler{router: router, logger: logger}
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error", "failed to read request body: "+err.Error())
		return
	}

	req, err := canonical.ParseRequest(body)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	count := tokens.Estimate(len(body))

	backend, model, err := h.router.Select(req.Model)
	if err != nil {
		h.logger.Warn("Routing failed, estimating token count", "model", req.Model, "error", err)
	} else {
		n, err := backend.CountTokens(r.Context(), &providers.Call{Request: req, Model: model, Header: r.Header})
		switch {
		case err == nil:
			count = n
		case errors.Is(err, providers.ErrCountUnsupported):
		default:
			h.logger.Warn("Backend token count failed, estimating", "backend", backend.Backend(), "model", model, "error", err)
		}
	}

	w.Header().Set("Content-Type", providers.ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(map[string]int{"input_tokens": count}); err != nil {
		h.logger.Error("Failed to write count_tokens response", "error", err)
	}
}
