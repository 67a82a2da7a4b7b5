// Package pipeline runs cross-cutting hooks around one backend call: once
// before dispatch and once per raw stream chunk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

// RequestContext is the per-request state shared by every hook.
type RequestContext struct {
	Context  context.Context
	Request  *canonical.Request
	Backend  string
	Model    string
	Metadata map[string]any
}

func NewRequestContext(ctx context.Context, req *canonical.Request, backend, model string) *RequestContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RequestContext{
		Context:  ctx,
		Request:  req,
		Backend:  backend,
		Model:    model,
		Metadata: make(map[string]any),
	}
}

// Hook is one cross-cutting concern. AfterStreamChunk may only record into
// Metadata; it cannot fail the stream.
type Hook interface {
	Name() string
	BeforeRequest(rc *RequestContext) error
	AfterStreamChunk(rc *RequestContext, chunk []byte)
}

// Pipeline is an ordered hook list. A nil Pipeline runs nothing.
type Pipeline struct {
	hooks []Hook
}

func New(hooks ...Hook) *Pipeline {
	return &Pipeline{hooks: hooks}
}

// Use appends a hook.
func (p *Pipeline) Use(h Hook) {
	p.hooks = append(p.hooks, h)
}

func (p *Pipeline) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.hooks))
	for _, h := range p.hooks {
		names = append(names, h.Name())
	}
	return names
}

// BeforeRequest runs every hook, even after one fails, and joins the errors.
func (p *Pipeline) BeforeRequest(rc *RequestContext) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, h := range p.hooks {
		if err := h.BeforeRequest(rc); err != nil {
			errs = append(errs, fmt.Errorf("hook %s: %w", h.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) AfterStreamChunk(rc *RequestContext, chunk []byte) {
	if p == nil {
		return
	}
	for _, h := range p.hooks {
		h.AfterStreamChunk(rc, chunk)
	}
}

// Builtin returns the default hooks for a backend.
func Builtin(backend string, logger *slog.Logger, verbose bool) *Pipeline {
	p := New()
	switch backend {
	case config.BackendGemini:
		p.Use(&Signatures{})
	case config.BackendOpenRouter, config.BackendLocal:
		p.Use(&ReasoningDetails{})
	}
	p.Use(&ChunkLog{Logger: logger, Verbose: verbose})
	return p
}
