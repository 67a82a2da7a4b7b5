// Package assembler reassembles tool calls that backends stream in fragments.
package assembler

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/metrics"
)

// MaxArgsSize bounds the buffered argument text per call.
const MaxArgsSize = 1 << 20

// Strategy selects how argument fragments are combined.
type Strategy int

const (
	// Concat appends every fragment verbatim. Backends stream one JSON text
	// split across frames.
	Concat Strategy = iota
	// MergeObjects unions the top-level keys of object fragments. Backends
	// resend growing object snapshots.
	MergeObjects
)

func (s Strategy) String() string {
	if s == MergeObjects {
		return "merge"
	}
	return "concat"
}

// Fragment is one piece of a streamed tool call. Slot correlates fragments;
// every other field may be empty.
type Fragment struct {
	Slot      string
	ID        string
	Name      string
	Args      string
	Signature string
}

type entry struct {
	id        string
	name      string
	signature string
	args      strings.Builder
}

// Assembler is the per-stream tool-call ledger. It is not safe for
// concurrent use.
type Assembler struct {
	strategy  Strategy
	logger    *slog.Logger
	order     []string
	entries   map[string]*entry
	discarded bool
}

func New(strategy Strategy, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		strategy: strategy,
		logger:   logger,
		entries:  make(map[string]*entry),
	}
}

// Feed records a fragment. The first non-empty name for a slot sticks.
func (a *Assembler) Feed(f Fragment) {
	if a.discarded {
		return
	}

	e, ok := a.entries[f.Slot]
	if !ok {
		e = &entry{}
		a.entries[f.Slot] = e
		a.order = append(a.order, f.Slot)
	}

	if e.id == "" && f.ID != "" {
		e.id = f.ID
	}
	if e.name == "" && f.Name != "" {
		e.name = f.Name
	}
	if e.signature == "" && f.Signature != "" {
		e.signature = f.Signature
	}

	if f.Args == "" {
		return
	}

	if a.strategy == MergeObjects {
		a.merge(f.Slot, e, f.Args)
		return
	}

	if e.args.Len()+len(f.Args) > MaxArgsSize {
		a.logger.Warn("Tool call arguments exceed size limit, dropping fragment",
			"slot", f.Slot, "buf_len", e.args.Len(), "fragment_len", len(f.Args))
		return
	}
	e.args.WriteString(f.Args)
}

func (a *Assembler) merge(slot string, e *entry, fragment string) {
	trimmed := strings.TrimSpace(fragment)
	current := e.args.String()

	frag := gjson.Parse(trimmed)
	if !gjson.Valid(trimmed) || !frag.IsObject() || (current != "" && !isObject(current)) {
		if e.args.Len()+len(fragment) > MaxArgsSize {
			a.logger.Warn("Tool call arguments exceed size limit, dropping fragment",
				"slot", slot, "buf_len", e.args.Len(), "fragment_len", len(fragment))
			return
		}
		e.args.WriteString(fragment)
		return
	}

	if current == "" {
		current = "{}"
	}

	merged := current
	frag.ForEach(func(key, value gjson.Result) bool {
		next, err := sjson.SetRaw(merged, escapePath(key.String()), value.Raw)
		if err != nil {
			a.logger.Warn("Failed to merge tool call argument key", "slot", slot, "key", key.String(), "error", err)
			return true
		}
		merged = next
		return true
	})

	if len(merged) > MaxArgsSize {
		a.logger.Warn("Tool call arguments exceed size limit, dropping fragment",
			"slot", slot, "buf_len", e.args.Len(), "fragment_len", len(fragment))
		return
	}
	e.args.Reset()
	e.args.WriteString(merged)
}

// Len returns the number of ledger entries.
func (a *Assembler) Len() int {
	return len(a.order)
}

// Discard drops every partial call. Later feeds and finalize are no-ops.
func (a *Assembler) Discard() {
	a.discarded = true
	a.order = nil
	a.entries = make(map[string]*entry)
}

// Finalize resolves the ledger into tool calls in first-seen slot order.
// Nameless entries are dropped; arguments that do not parse to a JSON object
// degrade to an empty object.
func (a *Assembler) Finalize() []canonical.ToolCall {
	if a.discarded {
		return nil
	}

	calls := make([]canonical.ToolCall, 0, len(a.order))
	for _, slot := range a.order {
		e := a.entries[slot]
		if e.name == "" {
			a.logger.Warn("Dropping tool call without a name", "slot", slot, "id", e.id)
			metrics.ToolCallsDroppedTotal.Inc()
			continue
		}

		id := e.id
		if id == "" {
			id = NewToolID()
		}

		calls = append(calls, canonical.ToolCall{
			ID:        id,
			Name:      e.name,
			Args:      a.parseArgs(slot, e),
			Signature: e.signature,
		})
	}
	return calls
}

func (a *Assembler) parseArgs(slot string, e *entry) map[string]any {
	text := strings.TrimSpace(e.args.String())
	if text == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(text), &args); err != nil || args == nil {
		a.logger.Warn("Tool call arguments are not a JSON object, using empty arguments",
			"slot", slot, "name", e.name, "length", len(text))
		metrics.ToolArgsCorruptTotal.Inc()
		return map[string]any{}
	}
	return args
}

// NewToolID returns a fresh canonical tool-use id.
func NewToolID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func isObject(s string) bool {
	return gjson.Valid(s) && gjson.Parse(s).IsObject()
}

// escapePath makes a literal object key safe to use as an sjson path.
func escapePath(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
