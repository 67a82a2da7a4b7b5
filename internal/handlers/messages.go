package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/providers"
	"github.com/mihaisavezi/claude-code-bridge/internal/status"
	"github.com/mihaisavezi/claude-code-bridge/internal/tokens"
	"github.com/mihaisavezi/claude-code-bridge/internal/transcoder"
)

// maxBodySize bounds inbound request bodies.
const maxBodySize = 32 << 20

// Router resolves a requested model id to a backend client.
type Router interface {
	Select(requested string) (providers.Handler, string, error)
}

type MessagesHandler struct {
	router  Router
	counter *tokens.Counter
	status  *status.Recorder
	logger  *slog.Logger
}

func NewMessagesHandler(router Router, counter *tokens.Counter, recorder *status.Recorder, logger *slog.Logger) *MessagesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagesHandler{
		router:  router,
		counter: counter,
		status:  recorder,
		logger:  logger,
	}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	inputTokens := h.counter.Count(string(body))

	backend, model, err := h.router.Select(req.Model)
	if err != nil {
		h.logger.Error("Routing failed", "model", req.Model, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "api_error", err.Error())
		return
	}

	call := &providers.Call{
		Request:     req,
		Model:       model,
		InputTokens: inputTokens,
		Writer:      w,
		Header:      r.Header,
	}

	var collector *transcoder.Collector
	if req.Stream {
		call.Emitter = transcoder.New(w, req.Model, inputTokens)
	} else {
		collector = transcoder.NewCollector(req.Model, inputTokens)
		call.Emitter = collector
	}

	res, err := backend.Generate(r.Context(), call)
	if err != nil {
		h.fail(r.Context(), w, call, backend.Backend(), err)
		return
	}

	if collector != nil && !res.Relayed {
		w.Header().Set("Content-Type", providers.ContentTypeJSON)
		if err := json.NewEncoder(w).Encode(collector); err != nil {
			h.logger.Error("Failed to write response", "error", err)
		}
	}

	h.record(req.Model, res)
}

// fail reports err on whatever channel is still open to the client.
func (h *MessagesHandler) fail(ctx context.Context, w http.ResponseWriter, call *providers.Call, backend string, err error) {
	switch {
	case errors.Is(err, providers.ErrAborted):
		h.logger.Error("Response aborted", "backend", backend, "model", call.Model, "error", err)
		return
	case ctx.Err() != nil:
		h.logger.Info("Client went away", "backend", backend, "model", call.Model, "error", err)
		return
	}

	h.logger.Error("Backend request failed", "backend", backend, "model", call.Model, "error", err)

	ferr := call.Emitter.Fail(err)
	switch {
	case errors.Is(ferr, transcoder.ErrNotStarted):
		writeError(w, h.logger, http.StatusInternalServerError, providers.ErrorType(err), errorMessage(err))
	case ferr != nil && !errors.Is(ferr, transcoder.ErrClosed):
		h.logger.Warn("Failed to write error frame", "error", ferr)
	}
}

func (h *MessagesHandler) record(requested string, res *providers.Result) {
	h.logger.Info("Response token usage",
		"backend", res.Backend,
		"model", res.Model,
		"requested", requested,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"reported", res.UsageReported,
		"stop_reason", res.StopReason,
		"tool_calls", len(res.ToolCalls),
		"reasoning_bytes", len(res.Reasoning),
		"reasoning_details", len(res.ReasoningDetails),
	)

	// Write errors are logged by the recorder.
	_, _ = h.status.Record(status.Update{
		Model:         res.Model,
		Backend:       res.Backend,
		InputTokens:   res.Usage.InputTokens,
		OutputTokens:  res.Usage.OutputTokens,
		ContextWindow: res.ContextWindow,
	})
}

func errorMessage(err error) string {
	var be *providers.BackendError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	return err.Error()
}
