package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware list; the first entry runs outermost.
type Chain struct {
	middlewares []Middleware
}

func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then returns a chain with more middleware appended.
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(append([]Middleware(nil), c.middlewares...), middlewares...)}
}

// Handler applies all middleware in the chain to the given handler.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// Middlewares returns the chain as a slice, for routers that take one.
func (c Chain) Middlewares() []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, len(c.middlewares))
	for i, m := range c.middlewares {
		out[i] = m
	}
	return out
}

// MiddlewareSet contains all configured middleware for easy composition.
type MiddlewareSet struct {
	Recover        Middleware
	StatsigBlocker Middleware
	MetricsBlocker Middleware
	Metrics        Middleware
	Logging        Middleware
	Auth           Middleware
}

func NewMiddlewareSet(cfg *config.Config, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		Recover:        NewRecoverMiddleware(logger),
		StatsigBlocker: NewStatsigBlockerMiddleware(logger),
		MetricsBlocker: NewMetricsBlockerMiddleware(logger),
		Metrics:        NewMetricsMiddleware(),
		Logging:        NewLoggingMiddleware(logger),
		Auth:           NewAuthMiddleware(cfg.APIKey, logger),
	}
}

// PublicChain runs in front of every route, matched or not.
func (ms MiddlewareSet) PublicChain() Chain {
	return New(
		ms.Recover,
		ms.StatsigBlocker,
		ms.MetricsBlocker,
	)
}

// DefaultChain is used for the API endpoints.
func (ms MiddlewareSet) DefaultChain() Chain {
	return ms.PublicChain().Then(ms.Metrics, ms.Logging, ms.Auth)
}

// HealthChain skips auth.
func (ms MiddlewareSet) HealthChain() Chain {
	return ms.PublicChain().Then(ms.Logging)
}
