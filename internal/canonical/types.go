// Package canonical holds the Messages-API-shaped request model that every
// backend translation starts from.
package canonical

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ImageSource is either inline base64 data or a URL reference.
type ImageSource struct {
	MediaType string
	Data      string
	URL       string
}

// Inline returns the MIME type and base64 payload when the image can be sent
// inline. URL references that are not data URIs report false.
func (s ImageSource) Inline() (mimeType, data string, ok bool) {
	if s.Data != "" {
		mt := s.MediaType
		if mt == "" {
			mt = "image/jpeg"
		}
		return mt, s.Data, true
	}
	return ParseDataURI(s.URL)
}

// ParseDataURI splits a base64 data URI into its MIME type and payload.
func ParseDataURI(uri string) (mimeType, data string, ok bool) {
	if !strings.HasPrefix(uri, "data:") {
		return "", "", false
	}
	header, payload, found := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !found || !strings.HasSuffix(header, ";base64") {
		return "", "", false
	}
	mimeType = strings.TrimSuffix(header, ";base64")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType, payload, payload != ""
}

// Block is one content block. Only the fields matching Type are populated.
type Block struct {
	Type BlockType

	Text string

	Image *ImageSource

	// tool_result
	ToolUseID string
	IsError   bool
}

// ToolCall is a resolved tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Args      map[string]any
	Signature string
}

// ArgsJSON returns the arguments serialized as a JSON object.
func (tc ToolCall) ArgsJSON() string {
	if len(tc.Args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(tc.Args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

type Message struct {
	Role       Role
	Content    []Block
	ToolCalls  []ToolCall
	ToolCallID string
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == BlockText || b.Type == BlockToolResult {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ModelConfig carries optional generation parameters. Nil means unset.
type ModelConfig struct {
	MaxOutputTokens *int
	Temperature     *float64
	TopP            *float64
	TopK            *int
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is an inbound request after parsing. It is not mutated after the
// middleware pipeline ran.
type Request struct {
	Model    string
	Messages []Message
	Tools    []Tool
	Config   ModelConfig
	Stream   bool

	// Raw is the inbound body as received.
	Raw []byte
}

// System returns the leading system message text, if any.
func (r *Request) System() string {
	if len(r.Messages) > 0 && r.Messages[0].Role == RoleSystem {
		return r.Messages[0].Text()
	}
	return ""
}

// Conversation returns the messages after the leading system message.
func (r *Request) Conversation() []Message {
	if len(r.Messages) > 0 && r.Messages[0].Role == RoleSystem {
		return r.Messages[1:]
	}
	return r.Messages
}

// ToolName resolves the function name of an earlier tool call by id.
func (r *Request) ToolName(toolCallID string) string {
	for _, m := range r.Messages {
		for _, tc := range m.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return ""
}

// signatureMarker joins a tool id and its opaque continuation signature.
// The signature is raw URL base64 so the id stays within [A-Za-z0-9_-].
const signatureMarker = "_sig_"

// EncodeToolID carries a signature inside a tool id so it survives a round
// trip through a stateless client.
func EncodeToolID(id, signature string) string {
	if signature == "" {
		return id
	}
	return id + signatureMarker + base64.RawURLEncoding.EncodeToString([]byte(signature))
}

// DecodeToolID splits an id produced by EncodeToolID. Ids without a
// decodable signature come back unchanged.
func DecodeToolID(id string) (base, signature string) {
	i := strings.Index(id, signatureMarker)
	if i < 0 {
		return id, ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(id[i+len(signatureMarker):])
	if err != nil || len(raw) == 0 {
		return id, ""
	}
	return id[:i], string(raw)
}
