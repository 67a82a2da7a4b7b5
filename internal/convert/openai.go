// Package convert maps canonical requests to backend payloads and backend
// stream chunks to normalized events.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
)

// ToOpenAIRequest builds a streaming chat-completions payload.
func ToOpenAIRequest(req *canonical.Request, model string) ([]byte, error) {
	messages := make([]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if m := openAIMessage(msg); m != nil {
			messages = append(messages, m)
		}
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
		"stream_options": map[string]any{
			"include_usage": true,
		},
	}

	if req.Config.MaxOutputTokens != nil {
		payload["max_tokens"] = *req.Config.MaxOutputTokens
	}
	if req.Config.Temperature != nil {
		payload["temperature"] = *req.Config.Temperature
	}
	if req.Config.TopP != nil {
		payload["top_p"] = *req.Config.TopP
	}

	if tools := openAITools(req.Tools); len(tools) > 0 {
		payload["tools"] = tools
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat completions request: %w", err)
	}
	return data, nil
}

func openAIMessage(msg canonical.Message) map[string]any {
	switch msg.Role {
	case canonical.RoleSystem:
		return map[string]any{"role": "system", "content": msg.Text()}

	case canonical.RoleTool:
		return map[string]any{
			"role":         "tool",
			"tool_call_id": ToBackendToolID(msg.ToolCallID),
			"content":      msg.Text(),
		}

	case canonical.RoleAssistant:
		out := map[string]any{"role": "assistant", "content": msg.Text()}
		if len(msg.ToolCalls) > 0 {
			calls := make([]any, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   ToBackendToolID(tc.ID),
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.ArgsJSON(),
					},
				})
			}
			out["tool_calls"] = calls
		}
		return out

	default:
		return map[string]any{"role": "user", "content": openAIUserContent(msg.Content)}
	}
}

// openAIUserContent collapses text-only content to a string and uses parts
// when inline images are present. Non-inline images are dropped.
func openAIUserContent(blocks []canonical.Block) any {
	var (
		parts    []any
		text     strings.Builder
		hasImage bool
	)
	for _, b := range blocks {
		switch b.Type {
		case canonical.BlockText:
			text.WriteString(b.Text)
			parts = append(parts, map[string]any{"type": "text", "text": b.Text})
		case canonical.BlockImage:
			mime, data, ok := b.Image.Inline()
			if !ok {
				continue
			}
			hasImage = true
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": "data:" + mime + ";base64," + data,
				},
			})
		}
	}
	if !hasImage {
		return text.String()
	}
	return parts
}

func openAITools(tools []canonical.Tool) []any {
	out := make([]any, 0, len(tools))
	for _, tool := range tools {
		function := map[string]any{
			"name":       tool.Name,
			"parameters": ToolSchema(tool.InputSchema),
		}
		if tool.Description != "" {
			function["description"] = tool.Description
		}
		out = append(out, map[string]any{
			"type":     "function",
			"function": function,
		})
	}
	return out
}

// ToolSchema decodes a tool's JSON schema with format "uri" constraints
// removed. A missing or invalid schema yields an empty object schema.
func ToolSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil || schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return StripURIFormat(schema).(map[string]any)
}

// StripURIFormat removes every `format: "uri"` pair from a decoded JSON
// schema and leaves everything else untouched.
func StripURIFormat(data any) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			if key == "format" {
				if s, ok := value.(string); ok && s == "uri" {
					continue
				}
			}
			result[key] = StripURIFormat(value)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = StripURIFormat(item)
		}
		return result
	default:
		return v
	}
}

// ToBackendToolID maps a canonical tool id to the chat-completions prefix.
func ToBackendToolID(id string) string {
	if strings.HasPrefix(id, "toolu_") {
		return "call_" + strings.TrimPrefix(id, "toolu_")
	}
	return id
}

// ToCanonicalToolID maps a chat-completions tool id back to the canonical prefix.
func ToCanonicalToolID(id string) string {
	if strings.HasPrefix(id, "call_") {
		return "toolu_" + strings.TrimPrefix(id, "call_")
	}
	return id
}
