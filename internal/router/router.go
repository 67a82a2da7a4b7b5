// Package router picks the backend client and the backend model id for each
// requested model.
package router

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
	"github.com/mihaisavezi/claude-code-bridge/internal/providers"
)

// tiers are checked in this order against the requested id.
var tiers = []string{"opus", "sonnet", "haiku"}

// Router resolves requested model ids. Aggregator clients are built once per
// resolved id and reused.
type Router struct {
	cfg    *config.Config
	logger *slog.Logger

	passthrough providers.Handler
	gemini      providers.Handler
	local       providers.Handler

	aggregators   sync.Map
	newAggregator func(model string) providers.Handler
}

func New(cfg *config.Config, logger *slog.Logger, verbose bool) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		cfg:         cfg,
		logger:      logger,
		passthrough: providers.NewPassthrough(cfg, providers.Options{Logger: logger, Verbose: verbose}),
	}

	if cfg.Gemini.Configured() {
		r.gemini = providers.NewGemini(cfg, providers.Options{
			Logger:  logger,
			Verbose: verbose,
			Windows: providers.NewContextWindowCache(providers.GeminiWindowFetcher(cfg), logger),
		})
	}
	if cfg.Local.APIBase != "" {
		r.local = providers.NewLocal(cfg, providers.Options{
			Logger:  logger,
			Verbose: verbose,
			Windows: providers.NewContextWindowCache(providers.LocalWindowFetcher(cfg), logger),
		})
	}
	if cfg.OpenRouter.Configured() {
		windows := providers.NewContextWindowCache(providers.OpenRouterWindowFetcher(cfg), logger)
		r.newAggregator = func(model string) providers.Handler {
			return providers.NewOpenRouter(cfg, model, providers.Options{Logger: logger, Verbose: verbose, Windows: windows})
		}
	}
	return r
}

// Target resolves the working model id: the global default or the requested
// id, replaced by the first tier whose name appears in the requested id and
// which has an override.
func (r *Router) Target(requested string) string {
	target := requested
	if r.cfg.Router.Default != "" {
		target = r.cfg.Router.Default
	}

	lower := strings.ToLower(requested)
	for _, tier := range tiers {
		if !strings.Contains(lower, tier) {
			continue
		}
		if override := r.cfg.Router.TierOverride(tier); override != "" {
			return override
		}
	}
	return target
}

// Select returns the handler and backend model id for a requested model.
func (r *Router) Select(requested string) (providers.Handler, string, error) {
	if r.cfg.Monitor {
		return r.passthrough, requested, nil
	}

	target := r.Target(requested)

	switch {
	case r.cfg.Router.ForceNative:
		return r.require(r.gemini, config.BackendGemini, target)
	case r.cfg.Router.ForceLocal:
		return r.selectLocal(target)
	case r.isNative(target):
		return r.require(r.gemini, config.BackendGemini, target)
	case !strings.Contains(target, "/"):
		return r.passthrough, target, nil
	}

	if r.newAggregator == nil {
		return nil, "", fmt.Errorf("%w %q: %s is not configured", providers.ErrNoBackend, target, config.BackendOpenRouter)
	}
	if h, ok := r.aggregators.Load(target); ok {
		return h.(providers.Handler), target, nil
	}
	h, loaded := r.aggregators.LoadOrStore(target, r.newAggregator(target))
	if !loaded {
		r.logger.Debug("Created aggregator client", "model", target)
	}
	return h.(providers.Handler), target, nil
}

func (r *Router) selectLocal(target string) (providers.Handler, string, error) {
	if r.cfg.Local.Model != "" {
		target = r.cfg.Local.Model
	}
	return r.require(r.local, config.BackendLocal, target)
}

func (r *Router) require(h providers.Handler, backend, target string) (providers.Handler, string, error) {
	if h == nil {
		return nil, "", fmt.Errorf("%w %q: %s is not configured", providers.ErrNoBackend, target, backend)
	}
	return h, target, nil
}

func (r *Router) isNative(target string) bool {
	lower := strings.ToLower(target)
	for _, prefix := range r.cfg.Router.NativePrefixes {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}
