package providers

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/claude-code-bridge/internal/adapters"
	"github.com/mihaisavezi/claude-code-bridge/internal/config"
	"github.com/mihaisavezi/claude-code-bridge/internal/convert"
	"github.com/mihaisavezi/claude-code-bridge/internal/pipeline"
)

// OpenAICompat talks to an OpenAI-compatible chat completions endpoint. It
// serves both the aggregator and the local backend.
type OpenAICompat struct {
	core
	baseURL string
	apiKey  string
	headers http.Header
}

// Options carry what every client constructor shares.
type Options struct {
	Logger  *slog.Logger
	Verbose bool
	Windows *ContextWindowCache
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func newOpenAICompat(cfg *config.Config, backend, baseURL, apiKey string, headers http.Header, opts Options) *OpenAICompat {
	logger := opts.logger()
	return &OpenAICompat{
		core: core{
			backend:  backend,
			client:   newHTTPClient(cfg.BackendTimeout()),
			adapters: adapters.Builtin(cfg, backend),
			pipeline: pipeline.Builtin(backend, logger, opts.Verbose || cfg.Monitor),
			windows:  opts.Windows,
			logger:   logger,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		headers: headers,
	}
}

// NewLocal returns the client for a local OpenAI-compatible server.
func NewLocal(cfg *config.Config, opts Options) *OpenAICompat {
	return newOpenAICompat(cfg, config.BackendLocal, cfg.Local.APIBase, cfg.Local.APIKey, nil, opts)
}

func (c *OpenAICompat) Backend() string {
	return c.backend
}

func (c *OpenAICompat) Generate(ctx context.Context, call *Call) (*Result, error) {
	return c.generate(ctx, call, c.build, convert.NewOpenAINormalizer())
}

func (c *OpenAICompat) build(ctx context.Context, rc *pipeline.RequestContext, adapter adapters.Adapter) (*http.Request, error) {
	payload, err := convert.ToOpenAIRequest(rc.Request, rc.Model)
	if err != nil {
		return nil, err
	}
	payload, err = adapter.PrepareRequest(payload, rc.Request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", ContentTypeJSON)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *OpenAICompat) CountTokens(context.Context, *Call) (int, error) {
	return 0, ErrCountUnsupported
}

// ModelsWindowFetcher reads context sizes from an OpenAI-style /models
// listing. fields are tried in order on the matching entry.
func ModelsWindowFetcher(backend string, client *http.Client, baseURL, apiKey string, fields ...string) WindowFetcher {
	baseURL = strings.TrimRight(baseURL, "/")
	return func(ctx context.Context, model string) (int, error) {
		header := http.Header{}
		if apiKey != "" {
			header.Set("Authorization", "Bearer "+apiKey)
		}
		doc, err := getJSON(ctx, client, backend, baseURL+"/models", header)
		if err != nil {
			return 0, err
		}

		size := 0
		doc.Get("data").ForEach(func(_, entry gjson.Result) bool {
			if entry.Get("id").String() != model {
				return true
			}
			for _, f := range fields {
				if v := entry.Get(f).Int(); v > 0 {
					size = int(v)
					break
				}
			}
			return false
		})
		return size, nil
	}
}

// LocalWindowFetcher reads context sizes from the local server's listing.
func LocalWindowFetcher(cfg *config.Config) WindowFetcher {
	return ModelsWindowFetcher(config.BackendLocal, newHTTPClient(cfg.BackendTimeout()),
		cfg.Local.APIBase, cfg.Local.APIKey, "context_length", "max_context_length")
}
