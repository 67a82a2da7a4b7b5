// Package adapters holds per-model strategies that correct request and
// response quirks without changing the streaming pipeline.
package adapters

import (
	"strings"

	"github.com/mihaisavezi/claude-code-bridge/internal/assembler"
	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

// TextResult is the outcome of passing streamed text through an adapter.
type TextResult struct {
	Text        string
	ToolCalls   []canonical.ToolCall
	Transformed bool
}

// Adapter corrects one model family's quirks. Instances are per request.
type Adapter interface {
	Name() string
	// PrepareRequest mutates the outgoing backend payload. Running it twice
	// must give the same result as running it once.
	PrepareRequest(payload []byte, req *canonical.Request) ([]byte, error)
	// ProcessTextContent filters one text delta. accumulated is the text
	// already forwarded downstream.
	ProcessTextContent(text, accumulated string) TextResult
	// FlushText releases anything held back at stream end.
	FlushText() TextResult
	ArgsStrategy() assembler.Strategy
	Reset()
}

// Entry registers an adapter factory behind a model predicate.
type Entry struct {
	Name  string
	Match func(modelID string) bool
	New   func() Adapter
}

// Registry selects the first matching adapter, falling back to Default.
type Registry struct {
	entries []Entry
}

func NewRegistry(entries ...Entry) *Registry {
	return &Registry{entries: entries}
}

// Register appends an entry. Entries are tried in registration order.
func (r *Registry) Register(e Entry) {
	r.entries = append(r.entries, e)
}

// Select returns a fresh, reset adapter for the model.
func (r *Registry) Select(modelID string) Adapter {
	for _, e := range r.entries {
		if e.Match != nil && e.Match(modelID) {
			a := e.New()
			a.Reset()
			return a
		}
	}
	return &Default{}
}

// Names lists the registered adapters in match order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries)+1)
	for _, e := range r.entries {
		names = append(names, e.Name)
	}
	return append(names, DefaultName)
}

// Builtin returns the registry for one backend, driven by config.
func Builtin(cfg *config.Config, backend string) *Registry {
	r := NewRegistry()

	if backend == config.BackendGemini {
		r.Register(Entry{
			Name:  GeminiName,
			Match: func(string) bool { return true },
			New:   func() Adapter { return &Gemini{} },
		})
		return r
	}

	localText := backend == config.BackendLocal && cfg.Local.TextToolCalls
	textModels := cfg.Adapters.TextToolModels
	r.Register(Entry{
		Name:  TextToolsName,
		Match: func(id string) bool { return localText || MatchModel(id, textModels) },
		New:   func() Adapter { return &TextTools{} },
	})

	mergeModels := cfg.Adapters.MergeArgsModels
	r.Register(Entry{
		Name:  MergeArgsName,
		Match: func(id string) bool { return MatchModel(id, mergeModels) },
		New:   func() Adapter { return &MergeArgs{} },
	})

	reasoningModels := cfg.Adapters.ReasoningModels
	r.Register(Entry{
		Name:  ReasoningName,
		Match: func(id string) bool { return MatchModel(id, reasoningModels) },
		New:   func() Adapter { return &Reasoning{} },
	})

	return r
}

// MatchModel reports whether the model name, without any vendor namespace,
// starts with one of the patterns. Matching is case-insensitive.
func MatchModel(modelID string, patterns []string) bool {
	name := strings.ToLower(modelID)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
