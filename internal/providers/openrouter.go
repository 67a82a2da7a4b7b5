package providers

import (
	"net/http"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

const (
	openRouterReferer = "https://github.com/mihaisavezi/claude-code-bridge"
	openRouterTitle   = "claude-code-bridge"
)

// NewOpenRouter returns an aggregator client for one resolved model id and
// starts warming its context window.
func NewOpenRouter(cfg *config.Config, model string, opts Options) *OpenAICompat {
	headers := http.Header{}
	headers.Set("HTTP-Referer", openRouterReferer)
	headers.Set("X-Title", openRouterTitle)

	c := newOpenAICompat(cfg, config.BackendOpenRouter, cfg.OpenRouter.APIBase, cfg.OpenRouter.APIKey, headers, opts)
	c.windows.Warm(model)
	return c
}

// OpenRouterWindowFetcher reads context_length from the aggregator's model
// listing.
func OpenRouterWindowFetcher(cfg *config.Config) WindowFetcher {
	return ModelsWindowFetcher(config.BackendOpenRouter, newHTTPClient(cfg.BackendTimeout()),
		cfg.OpenRouter.APIBase, cfg.OpenRouter.APIKey, "context_length", "top_provider.context_length")
}
