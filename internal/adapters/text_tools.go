package adapters

import (
	"encoding/json"
	"strings"

	"github.com/mihaisavezi/claude-code-bridge/internal/assembler"
	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
)

const (
	TextToolsName = "text-tools"

	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

// TextTools extracts tool calls that a model writes into the text channel as
// <tool_call>{"name": ..., "arguments": ...}</tool_call>. Spans may straddle
// chunk boundaries, so a partial tag is held back until resolved.
type TextTools struct {
	Default

	pending strings.Builder
}

func (*TextTools) Name() string { return TextToolsName }

func (t *TextTools) Reset() {
	t.pending.Reset()
}

func (t *TextTools) ProcessTextContent(text, _ string) TextResult {
	buf := t.pending.String() + text
	t.pending.Reset()

	var (
		out   strings.Builder
		calls []canonical.ToolCall
	)

	for {
		start := strings.Index(buf, toolCallOpen)
		if start < 0 {
			keep := partialTagSuffix(buf, toolCallOpen)
			out.WriteString(buf[:len(buf)-keep])
			t.pending.WriteString(buf[len(buf)-keep:])
			break
		}

		out.WriteString(buf[:start])
		rest := buf[start+len(toolCallOpen):]

		end := strings.Index(rest, toolCallClose)
		if end < 0 {
			if len(buf)-start > assembler.MaxArgsSize {
				out.WriteString(buf[start:])
			} else {
				t.pending.WriteString(buf[start:])
			}
			break
		}

		if call, ok := parseTextToolCall(rest[:end]); ok {
			calls = append(calls, call)
		} else {
			out.WriteString(buf[start : start+len(toolCallOpen)+end+len(toolCallClose)])
		}
		buf = rest[end+len(toolCallClose):]
	}

	cleaned := out.String()
	return TextResult{
		Text:        cleaned,
		ToolCalls:   calls,
		Transformed: len(calls) > 0 || cleaned != text,
	}
}

// FlushText returns held-back text. An unterminated span is not a call.
func (t *TextTools) FlushText() TextResult {
	held := t.pending.String()
	t.pending.Reset()
	return TextResult{Text: held, Transformed: held != ""}
}

func parseTextToolCall(body string) (canonical.ToolCall, bool) {
	var raw struct {
		Name       string          `json:"name"`
		Arguments  json.RawMessage `json:"arguments"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &raw); err != nil || raw.Name == "" {
		return canonical.ToolCall{}, false
	}

	argsRaw := raw.Arguments
	if len(argsRaw) == 0 {
		argsRaw = raw.Parameters
	}

	args := map[string]any{}
	if len(argsRaw) > 0 {
		// Arguments may be an object or a JSON-encoded string.
		var encoded string
		if json.Unmarshal(argsRaw, &encoded) == nil {
			argsRaw = json.RawMessage(encoded)
		}
		if err := json.Unmarshal(argsRaw, &args); err != nil || args == nil {
			args = map[string]any{}
		}
	}

	return canonical.ToolCall{
		ID:   assembler.NewToolID(),
		Name: raw.Name,
		Args: args,
	}, true
}

// partialTagSuffix returns the length of the longest suffix of s that is a
// proper prefix of tag.
func partialTagSuffix(s, tag string) int {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}
