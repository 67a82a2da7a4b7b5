package providers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

func TestContextWindowCache_FetchOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	cache := NewContextWindowCache(func(ctx context.Context, model string) (int, error) {
		calls.Add(1)
		<-release
		return 128000, nil
	}, nil)

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Get(context.Background(), "x/model")
		}(i)
	}
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 128000, r)
	}
	assert.Equal(t, 128000, cache.Get(context.Background(), "x/model"))
	assert.LessOrEqual(t, calls.Load(), int32(len(results)))

	before := calls.Load()
	cache.Get(context.Background(), "x/model")
	assert.Equal(t, before, calls.Load(), "cached value is not refetched")
}

func TestContextWindowCache_FailureUsesDefault(t *testing.T) {
	var calls atomic.Int32
	cache := NewContextWindowCache(func(context.Context, string) (int, error) {
		calls.Add(1)
		return 0, errors.New("unreachable")
	}, nil)

	assert.Equal(t, config.DefaultContextWindow, cache.Get(context.Background(), "m"))
	assert.Equal(t, config.DefaultContextWindow, cache.Get(context.Background(), "m"))
	assert.Equal(t, int32(1), calls.Load())

	size, ok := cache.Cached("m")
	assert.True(t, ok)
	assert.Equal(t, config.DefaultContextWindow, size)
}

func TestContextWindowCache_Nil(t *testing.T) {
	var cache *ContextWindowCache
	assert.Equal(t, config.DefaultContextWindow, cache.Get(context.Background(), "m"))
	cache.Warm("m")
	_, ok := cache.Cached("m")
	assert.False(t, ok)
}
