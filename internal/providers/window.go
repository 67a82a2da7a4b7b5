package providers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

const windowLookupTimeout = 10 * time.Second

// WindowFetcher looks up a model's maximum context size in tokens.
type WindowFetcher func(ctx context.Context, model string) (int, error)

// ContextWindowCache remembers context sizes for the process lifetime. Each
// key is written once; concurrent misses share one lookup.
type ContextWindowCache struct {
	fetch    WindowFetcher
	fallback int
	logger   *slog.Logger

	windows sync.Map
	group   singleflight.Group
}

func NewContextWindowCache(fetch WindowFetcher, logger *slog.Logger) *ContextWindowCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextWindowCache{
		fetch:    fetch,
		fallback: config.DefaultContextWindow,
		logger:   logger,
	}
}

// Get returns the cached size, fetching it on first use. Failed or empty
// lookups settle on the default size.
func (c *ContextWindowCache) Get(ctx context.Context, model string) int {
	if c == nil {
		return config.DefaultContextWindow
	}
	if v, ok := c.windows.Load(model); ok {
		return v.(int)
	}
	if c.fetch == nil {
		return c.fallback
	}

	v, _, _ := c.group.Do(model, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), windowLookupTimeout)
		defer cancel()

		size, err := c.fetch(lookupCtx, model)
		if err != nil || size <= 0 {
			c.logger.Debug("Context window lookup failed, using default",
				"model", model, "default", c.fallback, "error", err)
			size = c.fallback
		}
		actual, _ := c.windows.LoadOrStore(model, size)
		return actual, nil
	})
	return v.(int)
}

// Warm starts a lookup in the background.
func (c *ContextWindowCache) Warm(model string) {
	if c == nil || c.fetch == nil {
		return
	}
	if _, ok := c.windows.Load(model); ok {
		return
	}
	go c.Get(context.Background(), model)
}

// Cached reports the stored size without fetching.
func (c *ContextWindowCache) Cached(model string) (int, bool) {
	if c == nil {
		return 0, false
	}
	v, ok := c.windows.Load(model)
	if !ok {
		return 0, false
	}
	return v.(int), true
}
