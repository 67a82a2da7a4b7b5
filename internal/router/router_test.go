package router

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
	"github.com/mihaisavezi/claude-code-bridge/internal/providers"
)

func testConfig() *config.Config {
	cfg := config.Default()
	// Unroutable so background context-window lookups fail fast.
	cfg.OpenRouter = config.Provider{APIBase: "http://127.0.0.1:1", APIKey: "or-key"}
	cfg.Gemini = config.Provider{APIBase: "http://127.0.0.1:1", APIKey: "g-key"}
	cfg.Local.APIBase = "http://127.0.0.1:1"
	return cfg
}

func TestRouter_Select(t *testing.T) {
	tests := []struct {
		name        string
		configure   func(*config.Config)
		requested   string
		wantBackend string
		wantModel   string
	}{
		{
			name:        "direct vendor id",
			requested:   "claude-sonnet-4-20250514",
			wantBackend: config.BackendAnthropic,
			wantModel:   "claude-sonnet-4-20250514",
		},
		{
			name:        "aggregator id",
			requested:   "openai/gpt-4o",
			wantBackend: config.BackendOpenRouter,
			wantModel:   "openai/gpt-4o",
		},
		{
			name:        "native prefix",
			requested:   "Gemini-2.5-pro",
			wantBackend: config.BackendGemini,
			wantModel:   "Gemini-2.5-pro",
		},
		{
			name:        "monitor ignores mappings",
			configure:   func(c *config.Config) { c.Monitor = true; c.Router.Default = "openai/gpt-4o"; c.Router.ForceNative = true },
			requested:   "claude-opus-4",
			wantBackend: config.BackendAnthropic,
			wantModel:   "claude-opus-4",
		},
		{
			name:        "default replaces requested",
			configure:   func(c *config.Config) { c.Router.Default = "qwen/qwen3-coder" },
			requested:   "claude-sonnet-4",
			wantBackend: config.BackendOpenRouter,
			wantModel:   "qwen/qwen3-coder",
		},
		{
			name: "tier override wins over default",
			configure: func(c *config.Config) {
				c.Router.Default = "qwen/qwen3-coder"
				c.Router.Haiku = "gemini-2.5-flash"
			},
			requested:   "claude-3-5-HAIKU-latest",
			wantBackend: config.BackendGemini,
			wantModel:   "gemini-2.5-flash",
		},
		{
			name:        "tier without override falls through",
			configure:   func(c *config.Config) { c.Router.Sonnet = "openai/gpt-4o" },
			requested:   "claude-opus-sonnet",
			wantBackend: config.BackendOpenRouter,
			wantModel:   "openai/gpt-4o",
		},
		{
			name: "first tier with override applies",
			configure: func(c *config.Config) {
				c.Router.Opus = "openai/o3"
				c.Router.Sonnet = "openai/gpt-4o"
			},
			requested:   "opus-sonnet",
			wantBackend: config.BackendOpenRouter,
			wantModel:   "openai/o3",
		},
		{
			name:        "force native",
			configure:   func(c *config.Config) { c.Router.ForceNative = true },
			requested:   "openai/gpt-4o",
			wantBackend: config.BackendGemini,
			wantModel:   "openai/gpt-4o",
		},
		{
			name:        "force local",
			configure:   func(c *config.Config) { c.Router.ForceLocal = true },
			requested:   "claude-sonnet-4",
			wantBackend: config.BackendLocal,
			wantModel:   "claude-sonnet-4",
		},
		{
			name: "force local with configured model",
			configure: func(c *config.Config) {
				c.Router.ForceLocal = true
				c.Local.Model = "qwen2.5-coder-32b"
			},
			requested:   "claude-sonnet-4",
			wantBackend: config.BackendLocal,
			wantModel:   "qwen2.5-coder-32b",
		},
		{
			name:        "custom native prefix",
			configure:   func(c *config.Config) { c.Router.NativePrefixes = []string{"learnlm-"} },
			requested:   "learnlm-2.0-flash",
			wantBackend: config.BackendGemini,
			wantModel:   "learnlm-2.0-flash",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.configure != nil {
				tt.configure(cfg)
			}
			r := New(cfg, nil, false)

			h, model, err := r.Select(tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBackend, h.Backend())
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestRouter_NoBackend(t *testing.T) {
	tests := []struct {
		name      string
		configure func(*config.Config)
		requested string
	}{
		{"aggregator without key", func(c *config.Config) { c.OpenRouter.APIKey = "" }, "openai/gpt-4o"},
		{"native without key", func(c *config.Config) { c.Gemini.APIKey = "" }, "gemini-2.5-pro"},
		{"force native without key", func(c *config.Config) { c.Gemini.APIKey = ""; c.Router.ForceNative = true }, "claude-sonnet-4"},
		{"force local without base", func(c *config.Config) { c.Local.APIBase = ""; c.Router.ForceLocal = true }, "claude-sonnet-4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.configure(cfg)
			r := New(cfg, nil, false)

			h, _, err := r.Select(tt.requested)
			assert.ErrorIs(t, err, providers.ErrNoBackend)
			assert.Nil(t, h)
		})
	}
}

func TestRouter_AggregatorCache(t *testing.T) {
	r := New(testConfig(), nil, false)

	a1, _, err := r.Select("openai/gpt-4o")
	require.NoError(t, err)
	a2, _, err := r.Select("openai/gpt-4o")
	require.NoError(t, err)
	b, _, err := r.Select("anthropic/claude-sonnet-4")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
}

func TestRouter_AggregatorCacheConcurrent(t *testing.T) {
	r := New(testConfig(), nil, false)

	var built atomic.Int32
	build := r.newAggregator
	r.newAggregator = func(model string) providers.Handler {
		built.Add(1)
		return build(model)
	}

	const workers = 16
	handlers := make([]providers.Handler, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, _, err := r.Select("openai/gpt-4o")
			assert.NoError(t, err)
			handlers[i] = h
		}()
	}
	wg.Wait()

	for _, h := range handlers[1:] {
		assert.Same(t, handlers[0], h)
	}
	assert.GreaterOrEqual(t, built.Load(), int32(1))
	assert.LessOrEqual(t, built.Load(), int32(workers))

	before := built.Load()
	_, _, err := r.Select("openai/gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, before, built.Load(), "cached client is reused")
}

func TestRouter_Target(t *testing.T) {
	cfg := testConfig()
	cfg.Router.Sonnet = "openai/gpt-4o"
	r := New(cfg, nil, false)

	assert.Equal(t, "openai/gpt-4o", r.Target("claude-sonnet-4"))
	assert.Equal(t, "claude-opus-4", r.Target("claude-opus-4"))
}
