// Package providers holds the backend clients. Every client exposes the same
// Handler contract: stream one canonical response into an Emitter and report
// the aggregate for bookkeeping.
package providers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/transcoder"
)

const (
	ContentTypeJSON        = "application/json"
	ContentTypeEventStream = "text/event-stream"
)

// Handler is one backend client.
type Handler interface {
	Backend() string
	Generate(ctx context.Context, call *Call) (*Result, error)
	// CountTokens returns the backend's own input token count, or
	// ErrCountUnsupported.
	CountTokens(ctx context.Context, call *Call) (int, error)
}

// Call is one dispatch to a backend.
type Call struct {
	Request *canonical.Request
	// Model is the resolved backend model id.
	Model string
	// InputTokens is the local estimate reported until the backend sends
	// authoritative usage.
	InputTokens int
	Emitter     transcoder.Emitter

	// Writer and Header are the raw client sink and the inbound headers, used
	// by handlers whose backend already speaks the canonical protocol.
	Writer http.ResponseWriter
	Header http.Header
}

// Result is the aggregate of one response. The client already received
// every frame by the time it is returned.
type Result struct {
	Backend          string
	Model            string
	Text             string
	ToolCalls        []canonical.ToolCall
	Usage            canonical.Usage
	UsageReported    bool
	StopReason       string
	ContextWindow    int
	// Relayed reports that the response went straight to Call.Writer and
	// Call.Emitter was never used.
	Relayed          bool
	// Reasoning and ReasoningDetails hold the reasoning side channel of
	// chat-completions backends.
	Reasoning        string
	ReasoningDetails []json.RawMessage
	Metadata         map[string]any
}
