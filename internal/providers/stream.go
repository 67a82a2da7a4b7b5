package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mihaisavezi/claude-code-bridge/internal/adapters"
	"github.com/mihaisavezi/claude-code-bridge/internal/assembler"
	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/convert"
	"github.com/mihaisavezi/claude-code-bridge/internal/metrics"
	"github.com/mihaisavezi/claude-code-bridge/internal/pipeline"
	"github.com/mihaisavezi/claude-code-bridge/internal/transcoder"
)

const maxLoggedChunk = 512

// core is the streaming machinery shared by the translating clients.
type core struct {
	backend  string
	client   *http.Client
	adapters *adapters.Registry
	pipeline *pipeline.Pipeline
	windows  *ContextWindowCache
	logger   *slog.Logger
}

// buildFunc turns the prepared request into the backend HTTP request.
type buildFunc func(ctx context.Context, rc *pipeline.RequestContext, adapter adapters.Adapter) (*http.Request, error)

func (c *core) generate(ctx context.Context, call *Call, build buildFunc, normalizer convert.Normalizer) (*Result, error) {
	if call.Emitter == nil {
		return nil, errors.New("call has no emitter")
	}

	adapter := c.adapters.Select(call.Model)
	rc := pipeline.NewRequestContext(ctx, call.Request, c.backend, call.Model)
	if err := c.pipeline.BeforeRequest(rc); err != nil {
		return nil, fmt.Errorf("%s: %w", c.backend, err)
	}

	req, err := build(ctx, rc, adapter)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.backend, err)
	}
	req.Header.Set("Accept", ContentTypeEventStream)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	c.logger.Info("Proxying request",
		"backend", c.backend,
		"model", call.Model,
		"adapter", adapter.Name(),
		"input_tokens", call.InputTokens,
	)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(c.backend, "transport_error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError(c.backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		metrics.BackendRequestsTotal.WithLabelValues(c.backend, "http_error").Inc()
		be := MapHTTPError(c.backend, resp.StatusCode, readErrorBody(resp))
		c.logger.Error("Upstream error response", "backend", c.backend, "status", resp.StatusCode, "message", be.Message)
		return nil, be
	}

	body, err := decompressReader(resp)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(c.backend, "transport_error").Inc()
		return nil, transportError(c.backend, err)
	}
	defer body.Close()

	res, err := c.stream(ctx, rc, body, adapter, normalizer, call)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(c.backend, "stream_error").Inc()
		return nil, err
	}
	metrics.BackendRequestsTotal.WithLabelValues(c.backend, "ok").Inc()
	metrics.BackendTokensTotal.WithLabelValues(c.backend, "input").Add(float64(res.Usage.InputTokens))
	metrics.BackendTokensTotal.WithLabelValues(c.backend, "output").Add(float64(res.Usage.OutputTokens))

	res.ContextWindow = c.windows.Get(ctx, call.Model)

	res.Reasoning, res.ReasoningDetails = pipeline.Reasoning(rc)
	if res.Reasoning != "" {
		metrics.ReasoningBytesTotal.WithLabelValues(c.backend).Add(float64(len(res.Reasoning)))
	}
	if len(res.ReasoningDetails) > 0 {
		metrics.ReasoningDetailsTotal.WithLabelValues(c.backend).Add(float64(len(res.ReasoningDetails)))
	}

	chunks, size := pipeline.ChunkStats(rc)
	c.logger.Info("Completed streaming response",
		"backend", c.backend,
		"model", call.Model,
		"duration", time.Since(start).Round(time.Millisecond),
		"chunks", chunks,
		"bytes", size,
		"tool_calls", len(res.ToolCalls),
		"reasoning_bytes", len(res.Reasoning),
		"reasoning_details", len(res.ReasoningDetails),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)
	return res, nil
}

// stream drives one backend stream into the emitter. Each chunk runs
// through the hooks, then the normalizer; text goes through the adapter and
// out, tool fragments go to the ledger. Malformed chunks are skipped.
func (c *core) stream(ctx context.Context, rc *pipeline.RequestContext, body io.Reader, adapter adapters.Adapter, normalizer convert.Normalizer, call *Call) (*Result, error) {
	asm := assembler.New(adapter.ArgsStrategy(), c.logger)
	reader := NewSSEReader(body)

	var (
		text      strings.Builder
		textCalls []canonical.ToolCall
		usage     canonical.Usage
		reported  bool
		reason    string
	)

	emit := func(res adapters.TextResult) error {
		textCalls = append(textCalls, res.ToolCalls...)
		if res.Text == "" {
			return nil
		}
		text.WriteString(res.Text)
		return call.Emitter.Text(res.Text)
	}

	for {
		if err := ctx.Err(); err != nil {
			asm.Discard()
			return nil, err
		}

		data, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			asm.Discard()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, transportError(c.backend, fmt.Errorf("read stream: %w", err))
		}

		c.pipeline.AfterStreamChunk(rc, data)

		events, err := normalizer.Normalize(data)
		if err != nil {
			var se *convert.StreamError
			if errors.As(err, &se) {
				asm.Discard()
				return nil, &BackendError{Backend: c.backend, Type: "api_error", Message: se.Message, Err: se}
			}
			metrics.MalformedChunksTotal.WithLabelValues(c.backend).Inc()
			c.logger.Warn("Skipping malformed stream chunk",
				"backend", c.backend, "error", err, "chunk", truncateRunes(string(data), maxLoggedChunk))
			continue
		}

		for _, ev := range events {
			switch ev.Kind {
			case convert.EventText:
				if err := emit(adapter.ProcessTextContent(ev.Text, text.String())); err != nil {
					asm.Discard()
					return nil, err
				}
			case convert.EventToolFragment:
				f := ev.Fragment
				if f.Signature == "" {
					f.Signature = pipeline.SignatureFor(rc, f.Slot)
				}
				asm.Feed(f)
			case convert.EventFinish:
				reason = ev.Reason
			case convert.EventUsage:
				if ev.Usage.InputTokens > 0 {
					usage.InputTokens = ev.Usage.InputTokens
				}
				if ev.Usage.OutputTokens > 0 {
					usage.OutputTokens = ev.Usage.OutputTokens
				}
				reported = reported || ev.Usage.InputTokens > 0 || ev.Usage.OutputTokens > 0
			}
		}
	}

	if err := emit(adapter.FlushText()); err != nil {
		asm.Discard()
		return nil, err
	}

	calls := append(textCalls, asm.Finalize()...)

	var authoritative *canonical.Usage
	if reported {
		authoritative = &usage
	}
	if err := call.Emitter.Finish(calls, authoritative); err != nil {
		return nil, err
	}

	if usage.InputTokens == 0 {
		usage.InputTokens = call.InputTokens
	}
	if usage.OutputTokens == 0 {
		usage.OutputTokens = transcoder.EstimateTokens(len([]rune(text.String())))
	}
	if reason == "" && len(calls) > 0 {
		reason = "tool_calls"
	}

	return &Result{
		Backend:       c.backend,
		Model:         call.Model,
		Text:          text.String(),
		ToolCalls:     calls,
		Usage:         usage,
		UsageReported: reported,
		StopReason:    convert.StopReason(reason),
		Metadata:      rc.Metadata,
	}, nil
}
