package providers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/config"
	"github.com/mihaisavezi/claude-code-bridge/internal/metrics"
	"github.com/mihaisavezi/claude-code-bridge/internal/transcoder"
)

const anthropicVersion = "2023-06-01"

// forwardedHeaders are the inbound headers relayed to the native API.
var forwardedHeaders = []string{"Anthropic-Version", "Anthropic-Beta", "X-Api-Key", "Authorization"}

// Passthrough relays requests verbatim to the native Messages API. In
// monitor mode every frame is logged as it passes.
type Passthrough struct {
	baseURL string
	apiKey  string
	monitor bool
	client  *http.Client
	logger  *slog.Logger
}

func NewPassthrough(cfg *config.Config, opts Options) *Passthrough {
	return &Passthrough{
		baseURL: strings.TrimRight(cfg.Anthropic.APIBase, "/"),
		apiKey:  cfg.Anthropic.APIKey,
		monitor: cfg.Monitor,
		client:  newHTTPClient(cfg.BackendTimeout()),
		logger:  opts.logger(),
	}
}

func (p *Passthrough) Backend() string {
	return config.BackendAnthropic
}

func (p *Passthrough) newRequest(ctx context.Context, path string, body []byte, inbound http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for _, key := range forwardedHeaders {
		if v := inbound.Get(key); v != "" {
			req.Header.Set(key, v)
		}
	}
	if p.apiKey != "" {
		req.Header.Del("Authorization")
		req.Header.Set("X-Api-Key", p.apiKey)
	}
	if req.Header.Get("Anthropic-Version") == "" {
		req.Header.Set("Anthropic-Version", anthropicVersion)
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set("Accept-Encoding", acceptEncoding)
	return req, nil
}

// body returns the inbound body with the resolved model id applied.
func (p *Passthrough) body(req *canonical.Request, model string) ([]byte, error) {
	if model == "" || gjson.GetBytes(req.Raw, "model").String() == model {
		return req.Raw, nil
	}
	return sjson.SetBytes(req.Raw, "model", model)
}

// Generate forwards the request and copies the response to call.Writer as
// it arrives. Backend error statuses are relayed unchanged.
func (p *Passthrough) Generate(ctx context.Context, call *Call) (*Result, error) {
	if call.Writer == nil {
		return nil, errors.New("passthrough call has no writer")
	}
	payload, err := p.body(call.Request, call.Model)
	if err != nil {
		return nil, fmt.Errorf("rewrite model: %w", err)
	}

	req, err := p.newRequest(ctx, "/v1/messages", payload, call.Header)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Proxying request",
		"backend", config.BackendAnthropic,
		"model", call.Model,
		"monitor", p.monitor,
		"input_tokens", call.InputTokens,
	)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(config.BackendAnthropic, "transport_error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError(config.BackendAnthropic, err)
	}
	defer resp.Body.Close()

	body, err := decompressReader(resp)
	if err != nil {
		return nil, transportError(config.BackendAnthropic, err)
	}
	defer body.Close()

	w := call.Writer
	copyHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	res := &Result{
		Backend:  config.BackendAnthropic,
		Model:    call.Model,
		Usage:    canonical.Usage{InputTokens: call.InputTokens},
		Relayed:  true,
		Metadata: map[string]any{},
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), ContentTypeEventStream) {
		err = p.relayStream(ctx, w, body, res)
	} else {
		err = p.relayBody(w, body, res)
	}

	outcome := "ok"
	if resp.StatusCode >= http.StatusMultipleChoices {
		outcome = "http_error"
		p.logger.Error("Upstream error response", "backend", config.BackendAnthropic, "status", resp.StatusCode)
	}
	if err != nil {
		outcome = "stream_error"
	}
	metrics.BackendRequestsTotal.WithLabelValues(config.BackendAnthropic, outcome).Inc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAborted, err)
	}

	if res.Usage.OutputTokens == 0 {
		res.Usage.OutputTokens = transcoder.EstimateTokens(utf8.RuneCountInString(res.Text))
	}
	metrics.BackendTokensTotal.WithLabelValues(config.BackendAnthropic, "input").Add(float64(res.Usage.InputTokens))
	metrics.BackendTokensTotal.WithLabelValues(config.BackendAnthropic, "output").Add(float64(res.Usage.OutputTokens))

	p.logger.Info("Completed streaming response",
		"backend", config.BackendAnthropic,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)
	return res, nil
}

// relayStream copies the event stream line by line, flushing at every frame
// boundary, and sniffs usage from the frames it passes.
func (p *Passthrough) relayStream(ctx context.Context, w http.ResponseWriter, body io.Reader, res *Result) error {
	var text strings.Builder
	reader := bufio.NewReader(body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				return werr
			}
			trimmed := bytes.TrimSpace(line)
			if len(trimmed) == 0 {
				flushResponse(w)
			} else if data, ok := bytes.CutPrefix(trimmed, []byte("data:")); ok {
				p.observe(bytes.TrimSpace(data), res, &text)
			}
		}
		if errors.Is(err, io.EOF) {
			flushResponse(w)
			res.Text = text.String()
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *Passthrough) observe(data []byte, res *Result, text *strings.Builder) {
	if !gjson.ValidBytes(data) {
		return
	}
	frame := gjson.ParseBytes(data)
	if p.monitor {
		p.logger.Info("Observed frame", "type", frame.Get("type").String(), "data", truncateRunes(string(data), maxLoggedChunk))
	}

	switch frame.Get("type").String() {
	case "message_start":
		if v := frame.Get("message.usage.input_tokens").Int(); v > 0 {
			res.Usage.InputTokens = int(v)
			res.UsageReported = true
		}
	case "content_block_delta":
		text.WriteString(frame.Get("delta.text").String())
	case "content_block_start":
		if frame.Get("content_block.type").String() == "tool_use" {
			res.ToolCalls = append(res.ToolCalls, canonical.ToolCall{
				ID:   frame.Get("content_block.id").String(),
				Name: frame.Get("content_block.name").String(),
			})
		}
	case "message_delta":
		if v := frame.Get("usage.output_tokens").Int(); v > 0 {
			res.Usage.OutputTokens = int(v)
			res.UsageReported = true
		}
		if r := frame.Get("delta.stop_reason").String(); r != "" {
			res.StopReason = r
		}
	}
}

func (p *Passthrough) relayBody(w http.ResponseWriter, body io.Reader, res *Result) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if p.monitor {
		p.logger.Info("Observed response", "data", truncateRunes(string(data), maxLoggedChunk))
	}

	if !gjson.ValidBytes(data) {
		return nil
	}
	msg := gjson.ParseBytes(data)
	if v := msg.Get("usage.input_tokens").Int(); v > 0 {
		res.Usage.InputTokens = int(v)
		res.UsageReported = true
	}
	if v := msg.Get("usage.output_tokens").Int(); v > 0 {
		res.Usage.OutputTokens = int(v)
		res.UsageReported = true
	}
	res.StopReason = msg.Get("stop_reason").String()

	var text strings.Builder
	msg.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text.WriteString(block.Get("text").String())
		}
		return true
	})
	res.Text = text.String()
	return nil
}

// CountTokens relays to the native count_tokens endpoint.
func (p *Passthrough) CountTokens(ctx context.Context, call *Call) (int, error) {
	payload, err := p.body(call.Request, call.Model)
	if err != nil {
		return 0, err
	}
	httpReq, err := p.newRequest(ctx, "/v1/messages/count_tokens", payload, call.Header)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, transportError(config.BackendAnthropic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return 0, MapHTTPError(config.BackendAnthropic, resp.StatusCode, readErrorBody(resp))
	}

	reader, err := decompressReader(resp)
	if err != nil {
		return 0, transportError(config.BackendAnthropic, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, transportError(config.BackendAnthropic, err)
	}
	tokens := gjson.GetBytes(data, "input_tokens")
	if !tokens.Exists() {
		return 0, fmt.Errorf("%s: count_tokens response without input_tokens", config.BackendAnthropic)
	}
	return int(tokens.Int()), nil
}
