package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mihaisavezi/claude-code-bridge/internal/adapters"
	"github.com/mihaisavezi/claude-code-bridge/internal/config"
	"github.com/mihaisavezi/claude-code-bridge/internal/convert"
	"github.com/mihaisavezi/claude-code-bridge/internal/pipeline"
)

const geminiKeyHeader = "x-goog-api-key"

// Gemini talks to the native generateContent REST API.
type Gemini struct {
	core
	baseURL string
	apiKey  string
}

func NewGemini(cfg *config.Config, opts Options) *Gemini {
	logger := opts.logger()
	return &Gemini{
		core: core{
			backend:  config.BackendGemini,
			client:   newHTTPClient(cfg.BackendTimeout()),
			adapters: adapters.Builtin(cfg, config.BackendGemini),
			pipeline: pipeline.Builtin(config.BackendGemini, logger, opts.Verbose || cfg.Monitor),
			windows:  opts.Windows,
			logger:   logger,
		},
		baseURL: strings.TrimRight(cfg.Gemini.APIBase, "/"),
		apiKey:  cfg.Gemini.APIKey,
	}
}

func (g *Gemini) Backend() string {
	return g.backend
}

func (g *Gemini) Generate(ctx context.Context, call *Call) (*Result, error) {
	g.windows.Warm(call.Model)
	return g.generate(ctx, call, g.build, convert.NewGeminiNormalizer())
}

func (g *Gemini) modelURL(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", g.baseURL, url.PathEscape(model), method)
}

func (g *Gemini) build(ctx context.Context, rc *pipeline.RequestContext, adapter adapters.Adapter) (*http.Request, error) {
	payload, err := convert.ToGeminiRequest(rc.Request)
	if err != nil {
		return nil, err
	}
	payload, err = adapter.PrepareRequest(payload, rc.Request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.modelURL(rc.Model, "streamGenerateContent")+"?alt=sse", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	req.Header.Set(geminiKeyHeader, g.apiKey)
	return req, nil
}

// CountTokens asks countTokens for the full request, system prompt and
// tools included.
func (g *Gemini) CountTokens(ctx context.Context, call *Call) (int, error) {
	model := call.Model
	payload, err := convert.ToGeminiRequest(call.Request)
	if err != nil {
		return 0, err
	}
	payload, err = (&adapters.Gemini{}).PrepareRequest(payload, call.Request)
	if err != nil {
		return 0, err
	}

	body, err := sjson.SetRawBytes([]byte(`{}`), "generateContentRequest", payload)
	if err != nil {
		return 0, err
	}
	body, err = sjson.SetBytes(body, "generateContentRequest.model", "models/"+model)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.modelURL(model, "countTokens"), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", ContentTypeJSON)
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	httpReq.Header.Set(geminiKeyHeader, g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return 0, transportError(g.backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return 0, MapHTTPError(g.backend, resp.StatusCode, readErrorBody(resp))
	}

	reader, err := decompressReader(resp)
	if err != nil {
		return 0, transportError(g.backend, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, transportError(g.backend, err)
	}
	total := gjson.GetBytes(data, "totalTokens")
	if !total.Exists() {
		return 0, fmt.Errorf("%s: countTokens response without totalTokens", g.backend)
	}
	return int(total.Int()), nil
}

// GeminiWindowFetcher reads inputTokenLimit from the model metadata.
func GeminiWindowFetcher(cfg *config.Config) WindowFetcher {
	client := newHTTPClient(cfg.BackendTimeout())
	base := strings.TrimRight(cfg.Gemini.APIBase, "/")
	return func(ctx context.Context, model string) (int, error) {
		header := http.Header{}
		header.Set(geminiKeyHeader, cfg.Gemini.APIKey)
		doc, err := getJSON(ctx, client, config.BackendGemini, base+"/models/"+url.PathEscape(model), header)
		if err != nil {
			return 0, err
		}
		return int(doc.Get("inputTokenLimit").Int()), nil
	}
}
