package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRequest = errors.New("invalid request")

type wireRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	Tools       []wireTool      `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    *wireSource     `json:"source,omitempty"`
}

type wireSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ParseRequest decodes an inbound Messages API body. System text from the
// top-level field and from system-role messages collapses into one leading
// system message. Unknown block types are dropped.
func ParseRequest(body []byte) (*Request, error) {
	var wire wireRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if wire.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}

	req := &Request{
		Model:  wire.Model,
		Stream: wire.Stream,
		Raw:    body,
		Config: ModelConfig{
			MaxOutputTokens: wire.MaxTokens,
			Temperature:     wire.Temperature,
			TopP:            wire.TopP,
			TopK:            wire.TopK,
		},
	}

	systemParts := make([]string, 0, 1)
	if text := parseSystemText(wire.System); text != "" {
		systemParts = append(systemParts, text)
	}

	var conversation []Message
	for i, wm := range wire.Messages {
		blocks, err := parseBlocks(wm.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrInvalidRequest, i, err)
		}

		switch Role(wm.Role) {
		case RoleSystem:
			if text := joinText(blocks); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleAssistant:
			conversation = append(conversation, assistantMessage(blocks))
		case RoleUser:
			conversation = append(conversation, userMessages(blocks)...)
		default:
			return nil, fmt.Errorf("%w: message %d: unknown role %q", ErrInvalidRequest, i, wm.Role)
		}
	}

	if len(systemParts) > 0 {
		req.Messages = append(req.Messages, Message{
			Role:    RoleSystem,
			Content: []Block{{Type: BlockText, Text: strings.Join(systemParts, "\n\n")}},
		})
	}
	req.Messages = append(req.Messages, conversation...)

	for _, wt := range wire.Tools {
		if wt.Name == "" {
			continue
		}
		req.Tools = append(req.Tools, Tool{
			Name:        wt.Name,
			Description: wt.Description,
			InputSchema: wt.InputSchema,
		})
	}

	return req, nil
}

func assistantMessage(blocks []parsedBlock) Message {
	msg := Message{Role: RoleAssistant}
	for _, b := range blocks {
		if b.toolCall != nil {
			msg.ToolCalls = append(msg.ToolCalls, *b.toolCall)
			continue
		}
		if b.block.Type == BlockText || b.block.Type == BlockImage {
			msg.Content = append(msg.Content, b.block)
		}
	}
	return msg
}

// userMessages splits tool results into their own tool-role messages, which
// precede the remaining user content.
func userMessages(blocks []parsedBlock) []Message {
	var (
		out  []Message
		rest []Block
	)
	for _, b := range blocks {
		switch b.block.Type {
		case BlockToolResult:
			out = append(out, Message{
				Role:       RoleTool,
				ToolCallID: b.block.ToolUseID,
				Content:    []Block{b.block},
			})
		case BlockText, BlockImage:
			rest = append(rest, b.block)
		}
	}
	if len(rest) > 0 || len(out) == 0 {
		out = append(out, Message{Role: RoleUser, Content: rest})
	}
	return out
}

type parsedBlock struct {
	block    Block
	toolCall *ToolCall
}

func parseBlocks(raw json.RawMessage) ([]parsedBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []parsedBlock{{block: Block{Type: BlockText, Text: s}}}, nil
	}

	var wire []wireBlock
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.New("content must be a string or an array of blocks")
	}

	out := make([]parsedBlock, 0, len(wire))
	for _, wb := range wire {
		switch BlockType(wb.Type) {
		case BlockText:
			out = append(out, parsedBlock{block: Block{Type: BlockText, Text: wb.Text}})
		case BlockImage:
			if wb.Source == nil {
				continue
			}
			out = append(out, parsedBlock{block: Block{
				Type: BlockImage,
				Image: &ImageSource{
					MediaType: wb.Source.MediaType,
					Data:      wb.Source.Data,
					URL:       wb.Source.URL,
				},
			}})
		case BlockToolUse:
			out = append(out, parsedBlock{
				block: Block{Type: BlockToolUse},
				toolCall: &ToolCall{
					ID:   wb.ID,
					Name: wb.Name,
					Args: parseArgs(wb.Input),
				},
			})
		case BlockToolResult:
			out = append(out, parsedBlock{block: Block{
				Type:      BlockToolResult,
				ToolUseID: wb.ToolUseID,
				Text:      parseToolResultText(wb.Content),
				IsError:   wb.IsError,
			}})
		}
	}
	return out, nil
}

func parseArgs(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func joinText(blocks []parsedBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.block.Type == BlockText && strings.TrimSpace(b.block.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.block.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

func parseSystemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if (b.Type == "" || b.Type == "text") && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

func parseToolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "" || b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		return sb.String()
	}
	return strings.TrimSpace(string(raw))
}
