package convert

import (
	"errors"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/claude-code-bridge/internal/assembler"
	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
)

// ErrMalformedChunk marks a stream chunk that is not the expected JSON.
var ErrMalformedChunk = errors.New("malformed stream chunk")

// StreamError is an error object a backend sent inside its stream.
type StreamError struct {
	Code    string
	Message string
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return "backend stream error (" + e.Code + "): " + e.Message
	}
	return "backend stream error: " + e.Message
}

type EventKind int

const (
	EventText EventKind = iota
	EventToolFragment
	EventFinish
	EventUsage
)

// Event is one normalized backend stream event.
type Event struct {
	Kind     EventKind
	Text     string
	Fragment assembler.Fragment
	Reason   string
	Usage    canonical.Usage
}

// Normalizer turns raw backend chunks into events. Implementations may keep
// per-stream state and are used by one stream only.
type Normalizer interface {
	Normalize(raw []byte) ([]Event, error)
}

type openAINormalizer struct{}

// NewOpenAINormalizer returns a normalizer for chat-completions chunks.
func NewOpenAINormalizer() Normalizer {
	return openAINormalizer{}
}

func (openAINormalizer) Normalize(raw []byte) ([]Event, error) {
	return FromOpenAIChunk(raw)
}

// FromOpenAIChunk normalizes one chat-completions stream chunk.
func FromOpenAIChunk(raw []byte) ([]Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedChunk
	}
	chunk := gjson.ParseBytes(raw)
	if !chunk.IsObject() {
		return nil, ErrMalformedChunk
	}

	if errObj := chunk.Get("error"); errObj.Exists() {
		return nil, &StreamError{
			Code:    errObj.Get("code").String(),
			Message: firstNonEmpty(errObj.Get("message").String(), errObj.String()),
		}
	}

	var events []Event
	choice := chunk.Get("choices.0")
	if choice.Exists() {
		delta := choice.Get("delta")
		if content := delta.Get("content"); content.Type == gjson.String && content.String() != "" {
			events = append(events, Event{Kind: EventText, Text: content.String()})
		}

		delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
			slot := "0"
			if idx := call.Get("index"); idx.Exists() {
				slot = strconv.FormatInt(idx.Int(), 10)
			} else if id := call.Get("id").String(); id != "" {
				slot = id
			}

			id := call.Get("id").String()
			if id != "" {
				id = ToCanonicalToolID(id)
			}
			events = append(events, Event{
				Kind: EventToolFragment,
				Fragment: assembler.Fragment{
					Slot: slot,
					ID:   id,
					Name: call.Get("function.name").String(),
					Args: openAIArgs(call.Get("function.arguments")),
				},
			})
			return true
		})

		if reason := choice.Get("finish_reason"); reason.Type == gjson.String && reason.String() != "" {
			events = append(events, Event{Kind: EventFinish, Reason: reason.String()})
		}
	}

	if usage := chunk.Get("usage"); usage.IsObject() {
		events = append(events, Event{
			Kind: EventUsage,
			Usage: canonical.Usage{
				InputTokens:  int(usage.Get("prompt_tokens").Int()),
				OutputTokens: int(usage.Get("completion_tokens").Int()),
			},
		})
	}

	return events, nil
}

// openAIArgs accepts the usual string arguments and the object form some
// servers send instead.
func openAIArgs(v gjson.Result) string {
	switch {
	case !v.Exists():
		return ""
	case v.Type == gjson.String:
		return v.String()
	case v.IsObject():
		return v.Raw
	default:
		return ""
	}
}

// GeminiNormalizer normalizes streamGenerateContent chunks. Function calls
// without an id get a fresh slot per part.
type GeminiNormalizer struct {
	calls int
}

func NewGeminiNormalizer() *GeminiNormalizer {
	return &GeminiNormalizer{}
}

func (n *GeminiNormalizer) Normalize(raw []byte) ([]Event, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrMalformedChunk
	}
	root := gjson.ParseBytes(raw)

	// Non-SSE responses arrive as a JSON array of chunks.
	if root.IsArray() {
		var (
			events []Event
			err    error
		)
		root.ForEach(func(_, item gjson.Result) bool {
			var evs []Event
			evs, err = n.normalizeChunk(item)
			events = append(events, evs...)
			return err == nil
		})
		return events, err
	}
	return n.normalizeChunk(root)
}

func (n *GeminiNormalizer) normalizeChunk(chunk gjson.Result) ([]Event, error) {
	if !chunk.IsObject() {
		return nil, ErrMalformedChunk
	}

	if errObj := chunk.Get("error"); errObj.Exists() {
		return nil, &StreamError{
			Code:    errObj.Get("status").String(),
			Message: firstNonEmpty(errObj.Get("message").String(), errObj.String()),
		}
	}

	var events []Event
	candidate := chunk.Get("candidates.0")
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() && !part.Get("thought").Bool() && text.String() != "" {
			events = append(events, Event{Kind: EventText, Text: text.String()})
		}
		if call := part.Get("functionCall"); call.Exists() {
			slot := GeminiSlot(call.Get("id").String(), n.calls)
			n.calls++

			args := call.Get("args")
			argsRaw := ""
			if args.Exists() {
				argsRaw = args.Raw
			}
			events = append(events, Event{
				Kind: EventToolFragment,
				Fragment: assembler.Fragment{
					Slot: slot,
					ID:   call.Get("id").String(),
					Name: call.Get("name").String(),
					Args: argsRaw,
				},
			})
		}
		return true
	})

	if reason := candidate.Get("finishReason").String(); reason != "" {
		events = append(events, Event{Kind: EventFinish, Reason: reason})
	}

	if usage := chunk.Get("usageMetadata"); usage.IsObject() {
		events = append(events, Event{
			Kind: EventUsage,
			Usage: canonical.Usage{
				InputTokens:  int(usage.Get("promptTokenCount").Int()),
				OutputTokens: int(usage.Get("candidatesTokenCount").Int()),
			},
		})
	}

	return events, nil
}

// GeminiSlot names the ledger slot of the ordinal-th function call part of a
// stream. Parts without an id never share a slot.
func GeminiSlot(id string, ordinal int) string {
	if id != "" {
		return id
	}
	return "g" + strconv.Itoa(ordinal)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
