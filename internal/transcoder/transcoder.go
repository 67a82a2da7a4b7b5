// Package transcoder turns normalized backend events into the canonical
// Messages API response, either as an SSE stream or as one JSON body.
package transcoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
)

var (
	// ErrNotStarted is returned by Fail when nothing reached the client yet,
	// so the caller can still answer with a plain error status.
	ErrNotStarted = errors.New("stream not started")
	// ErrClosed is returned for any emission after the stream ended.
	ErrClosed = errors.New("stream already closed")
)

const (
	textBlockIndex = 0
	stopEndTurn    = "end_turn"
	terminator     = "data: [DONE]\n\n"
)

// Emitter receives the normalized events of one response.
type Emitter interface {
	Text(text string) error
	// Finish completes the response. A nil usage means no authoritative
	// figures arrived and output tokens are estimated.
	Finish(calls []canonical.ToolCall, usage *canonical.Usage) error
	Fail(err error) error
	Started() bool
}

// Transcoder owns one outbound SSE stream. It is not safe for concurrent use.
type Transcoder struct {
	w           io.Writer
	model       string
	messageID   string
	inputTokens int

	opened    bool
	textOpen  bool
	nextIndex int
	started   map[int]bool
	stopped   map[int]bool
	closed    bool

	chars int
}

// New returns a transcoder writing to w. inputTokens is the estimate reported
// in message_start.
func New(w io.Writer, model string, inputTokens int) *Transcoder {
	return &Transcoder{
		w:           w,
		model:       model,
		messageID:   NewMessageID(),
		inputTokens: inputTokens,
		nextIndex:   textBlockIndex + 1,
		started:     make(map[int]bool),
		stopped:     make(map[int]bool),
	}
}

// NewMessageID returns a fresh canonical message id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func (t *Transcoder) Started() bool {
	return t.opened
}

// Closed reports whether the stream reached its end, normally or not.
func (t *Transcoder) Closed() bool {
	return t.closed
}

// StreamedChars is the number of text characters forwarded so far.
func (t *Transcoder) StreamedChars() int {
	return t.chars
}

// Text forwards one text delta verbatim, opening the message and the text
// block on first use.
func (t *Transcoder) Text(text string) error {
	if t.closed {
		return ErrClosed
	}
	if text == "" {
		return nil
	}
	if err := t.openMessage(); err != nil {
		return err
	}
	if !t.textOpen {
		if err := t.startBlock(textBlockIndex, map[string]any{"type": "text", "text": ""}); err != nil {
			return err
		}
		t.textOpen = true
	}

	t.chars += utf8.RuneCountInString(text)
	return t.write("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": textBlockIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

// Finish closes the text block, emits every tool call as a complete block,
// then ends the message and the stream.
func (t *Transcoder) Finish(calls []canonical.ToolCall, usage *canonical.Usage) error {
	if t.closed {
		return ErrClosed
	}
	if err := t.openMessage(); err != nil {
		return err
	}

	if t.textOpen {
		if err := t.stopBlock(textBlockIndex); err != nil {
			return err
		}
		t.textOpen = false
	}

	for _, call := range calls {
		index := t.nextIndex
		t.nextIndex++
		if err := t.startBlock(index, ToolUseBlock(call)); err != nil {
			return err
		}
		if err := t.stopBlock(index); err != nil {
			return err
		}
	}

	input, output := t.inputTokens, EstimateTokens(t.chars)
	if usage != nil {
		if usage.InputTokens > 0 {
			input = usage.InputTokens
		}
		if usage.OutputTokens > 0 {
			output = usage.OutputTokens
		}
	}

	if err := t.write("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopEndTurn,
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"input_tokens":  input,
			"output_tokens": output,
		},
	}); err != nil {
		return err
	}
	if err := t.write("message_stop", map[string]any{"type": "message_stop"}); err != nil {
		return err
	}

	t.closed = true
	return t.writeRaw(terminator)
}

// Fail ends the stream with one error event. Before the first frame it
// writes nothing and returns ErrNotStarted.
func (t *Transcoder) Fail(err error) error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	if !t.opened {
		return ErrNotStarted
	}

	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return t.write("error", ErrorBody("server_error", msg))
}

func (t *Transcoder) openMessage() error {
	if t.opened {
		return nil
	}
	if rw, ok := t.w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		rw.WriteHeader(http.StatusOK)
	}
	t.opened = true

	return t.write("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            t.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         t.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  t.inputTokens,
				"output_tokens": 1,
			},
		},
	})
}

func (t *Transcoder) startBlock(index int, block map[string]any) error {
	if t.started[index] {
		return fmt.Errorf("content block %d started twice", index)
	}
	t.started[index] = true
	return t.write("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         index,
		"content_block": block,
	})
}

func (t *Transcoder) stopBlock(index int) error {
	if !t.started[index] || t.stopped[index] {
		return fmt.Errorf("content block %d stopped without an open start", index)
	}
	t.stopped[index] = true
	return t.write("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": index,
	})
}

func (t *Transcoder) write(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return t.writeRaw(FormatSSEEvent(event, payload))
}

// writeRaw writes and flushes one frame. A failed write closes the stream.
func (t *Transcoder) writeRaw(frame string) error {
	if _, err := io.WriteString(t.w, frame); err != nil {
		t.closed = true
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// FormatSSEEvent formats one server-sent event frame.
func FormatSSEEvent(event string, data []byte) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

// ToolUseBlock renders a resolved call as a tool_use content block. A
// signature rides inside the id.
func ToolUseBlock(call canonical.ToolCall) map[string]any {
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"type":  "tool_use",
		"id":    canonical.EncodeToolID(call.ID, call.Signature),
		"name":  call.Name,
		"input": args,
	}
}

// ErrorBody is the canonical error payload.
func ErrorBody(errType, message string) map[string]any {
	return map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	}
}

// EstimateTokens approximates a token count from a character count.
func EstimateTokens(chars int) int {
	return (chars + 3) / 4
}
