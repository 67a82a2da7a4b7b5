package convert

import "strings"

const StopReasonEndTurn = "end_turn"

var stopReasons = map[string]string{
	"stop":           StopReasonEndTurn,
	"length":         "max_tokens",
	"tool_calls":     "tool_use",
	"function_call":  "tool_use",
	"content_filter": "stop_sequence",
	"max_tokens":     "max_tokens",
	"safety":         "stop_sequence",
	"recitation":     "stop_sequence",
}

// StopReason maps a chat-completions or Gemini finish reason to the canonical
// vocabulary. Unknown reasons map to end_turn.
func StopReason(reason string) string {
	if mapped, ok := stopReasons[strings.ToLower(reason)]; ok {
		return mapped
	}
	return StopReasonEndTurn
}
