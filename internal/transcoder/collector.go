package transcoder

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
)

// Collector is the Emitter for non-streaming requests: it buffers the
// response and renders it as one message body.
type Collector struct {
	model       string
	messageID   string
	inputTokens int

	text   strings.Builder
	calls  []canonical.ToolCall
	usage  canonical.Usage
	done   bool
	closed bool
}

func NewCollector(model string, inputTokens int) *Collector {
	return &Collector{
		model:       model,
		messageID:   NewMessageID(),
		inputTokens: inputTokens,
	}
}

// Started is always false: nothing reaches the client before Finish.
func (c *Collector) Started() bool {
	return false
}

func (c *Collector) Text(text string) error {
	if c.closed {
		return ErrClosed
	}
	c.text.WriteString(text)
	return nil
}

func (c *Collector) Finish(calls []canonical.ToolCall, usage *canonical.Usage) error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.done = true
	c.calls = calls

	c.usage = canonical.Usage{
		InputTokens:  c.inputTokens,
		OutputTokens: EstimateTokens(utf8.RuneCountInString(c.text.String())),
	}
	if usage != nil {
		if usage.InputTokens > 0 {
			c.usage.InputTokens = usage.InputTokens
		}
		if usage.OutputTokens > 0 {
			c.usage.OutputTokens = usage.OutputTokens
		}
	}
	return nil
}

func (c *Collector) Fail(error) error {
	c.closed = true
	return ErrNotStarted
}

// Done reports whether Finish completed.
func (c *Collector) Done() bool {
	return c.done
}

// Usage returns the figures reported in the rendered body.
func (c *Collector) Usage() canonical.Usage {
	return c.usage
}

// MarshalJSON renders the collected response as a canonical message.
func (c *Collector) MarshalJSON() ([]byte, error) {
	content := make([]any, 0, len(c.calls)+1)
	if c.text.Len() > 0 {
		content = append(content, map[string]any{"type": "text", "text": c.text.String()})
	}
	for _, call := range c.calls {
		content = append(content, ToolUseBlock(call))
	}

	return json.Marshal(map[string]any{
		"id":            c.messageID,
		"type":          "message",
		"role":          "assistant",
		"model":         c.model,
		"content":       content,
		"stop_reason":   stopEndTurn,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  c.usage.InputTokens,
			"output_tokens": c.usage.OutputTokens,
		},
	})
}
