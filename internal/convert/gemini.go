package convert

import (
	"encoding/json"
	"fmt"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

var geminiSafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// ToGeminiRequest builds a generateContent payload. Consecutive turns with
// the same role are merged, since the API expects alternating roles.
func ToGeminiRequest(req *canonical.Request) ([]byte, error) {
	payload := map[string]any{}

	if system := req.System(); system != "" {
		payload["systemInstruction"] = map[string]any{
			"parts": []any{map[string]any{"text": system}},
		}
	}

	var contents []map[string]any
	for _, msg := range req.Conversation() {
		role, parts := geminiTurn(req, msg)
		if len(parts) == 0 {
			continue
		}
		if n := len(contents); n > 0 && contents[n-1]["role"] == role {
			contents[n-1]["parts"] = append(contents[n-1]["parts"].([]any), parts...)
			continue
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}
	if contents == nil {
		contents = []map[string]any{}
	}
	payload["contents"] = contents

	generationConfig := map[string]any{}
	if req.Config.MaxOutputTokens != nil {
		generationConfig["maxOutputTokens"] = *req.Config.MaxOutputTokens
	}
	if req.Config.Temperature != nil {
		generationConfig["temperature"] = *req.Config.Temperature
	}
	if req.Config.TopP != nil {
		generationConfig["topP"] = *req.Config.TopP
	}
	if req.Config.TopK != nil {
		generationConfig["topK"] = *req.Config.TopK
	}
	if len(generationConfig) > 0 {
		payload["generationConfig"] = generationConfig
	}

	if len(req.Tools) > 0 {
		declarations := make([]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decl := map[string]any{
				"name":       tool.Name,
				"parameters": ToolSchema(tool.InputSchema),
			}
			if tool.Description != "" {
				decl["description"] = tool.Description
			}
			declarations = append(declarations, decl)
		}
		payload["tools"] = []any{map[string]any{"functionDeclarations": declarations}}
	}

	safety := make([]any, 0, len(geminiSafetyCategories))
	for _, category := range geminiSafetyCategories {
		safety = append(safety, map[string]any{"category": category, "threshold": "BLOCK_NONE"})
	}
	payload["safetySettings"] = safety

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}
	return data, nil
}

func geminiTurn(req *canonical.Request, msg canonical.Message) (string, []any) {
	switch msg.Role {
	case canonical.RoleAssistant:
		parts := geminiContentParts(msg.Content)
		for _, tc := range msg.ToolCalls {
			part := map[string]any{
				"functionCall": map[string]any{
					"name": tc.Name,
					"args": tc.Args,
				},
			}
			if tc.Signature != "" {
				part["thoughtSignature"] = tc.Signature
			}
			parts = append(parts, part)
		}
		return geminiRoleModel, parts

	case canonical.RoleTool:
		name := req.ToolName(msg.ToolCallID)
		if name == "" {
			name = msg.ToolCallID
		}
		key := "result"
		if len(msg.Content) > 0 && msg.Content[0].IsError {
			key = "error"
		}
		return geminiRoleUser, []any{map[string]any{
			"functionResponse": map[string]any{
				"name":     name,
				"response": map[string]any{key: msg.Text()},
			},
		}}

	default:
		return geminiRoleUser, geminiContentParts(msg.Content)
	}
}

func geminiContentParts(blocks []canonical.Block) []any {
	parts := make([]any, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case canonical.BlockText:
			if b.Text == "" {
				continue
			}
			parts = append(parts, map[string]any{"text": b.Text})
		case canonical.BlockImage:
			mime, data, ok := b.Image.Inline()
			if !ok {
				continue
			}
			parts = append(parts, map[string]any{
				"inlineData": map[string]any{
					"mimeType": mime,
					"data":     data,
				},
			})
		}
	}
	return parts
}
