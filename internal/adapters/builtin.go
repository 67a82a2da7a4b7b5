package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mihaisavezi/claude-code-bridge/internal/assembler"
	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
)

const (
	DefaultName   = "default"
	ReasoningName = "reasoning"
	MergeArgsName = "merge-args"
	GeminiName    = "gemini"
)

// Default passes everything through.
type Default struct{}

func (*Default) Name() string { return DefaultName }

func (*Default) PrepareRequest(payload []byte, _ *canonical.Request) ([]byte, error) {
	return payload, nil
}

func (*Default) ProcessTextContent(text, _ string) TextResult {
	return TextResult{Text: text}
}

func (*Default) FlushText() TextResult { return TextResult{} }

func (*Default) ArgsStrategy() assembler.Strategy { return assembler.Concat }

func (*Default) Reset() {}

// Reasoning serves models that reject sampling parameters and expect
// max_completion_tokens.
type Reasoning struct {
	Default
}

func (*Reasoning) Name() string { return ReasoningName }

func (*Reasoning) PrepareRequest(payload []byte, _ *canonical.Request) ([]byte, error) {
	var err error
	for _, field := range []string{"temperature", "top_p", "top_k"} {
		if payload, err = sjson.DeleteBytes(payload, field); err != nil {
			return nil, fmt.Errorf("delete %s: %w", field, err)
		}
	}

	if maxTokens := gjson.GetBytes(payload, "max_tokens"); maxTokens.Exists() {
		if payload, err = sjson.SetRawBytes(payload, "max_completion_tokens", []byte(maxTokens.Raw)); err != nil {
			return nil, fmt.Errorf("set max_completion_tokens: %w", err)
		}
		if payload, err = sjson.DeleteBytes(payload, "max_tokens"); err != nil {
			return nil, fmt.Errorf("delete max_tokens: %w", err)
		}
	}
	return payload, nil
}

// MergeArgs serves backends that stream tool arguments as object snapshots.
type MergeArgs struct {
	Default
}

func (*MergeArgs) Name() string { return MergeArgsName }

func (*MergeArgs) ArgsStrategy() assembler.Strategy { return assembler.MergeObjects }

// geminiUnsupportedSchemaKeys are JSON-schema keywords the native API rejects.
var geminiUnsupportedSchemaKeys = map[string]bool{
	"$schema":              true,
	"additionalProperties": true,
	"exclusiveMinimum":     true,
	"exclusiveMaximum":     true,
}

// Gemini cleans function declarations for the native chat API.
type Gemini struct {
	Default
}

func (*Gemini) Name() string { return GeminiName }

func (*Gemini) ArgsStrategy() assembler.Strategy { return assembler.MergeObjects }

func (*Gemini) PrepareRequest(payload []byte, _ *canonical.Request) ([]byte, error) {
	decls := gjson.GetBytes(payload, "tools.0.functionDeclarations")
	if !decls.IsArray() {
		return payload, nil
	}

	var err error
	for i, decl := range decls.Array() {
		params := decl.Get("parameters")
		if !params.Exists() {
			continue
		}

		var schema any
		if jsonErr := json.Unmarshal([]byte(params.Raw), &schema); jsonErr != nil {
			continue
		}
		path := fmt.Sprintf("tools.0.functionDeclarations.%d.parameters", i)
		if payload, err = sjson.SetBytes(payload, path, removeSchemaKeys(schema, false)); err != nil {
			return nil, fmt.Errorf("clean %s: %w", path, err)
		}
	}
	return payload, nil
}

// removeSchemaKeys drops unsupported keywords. Keys directly under
// "properties" are property names and are kept.
func removeSchemaKeys(data any, propertyNames bool) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, value := range v {
			if !propertyNames && geminiUnsupportedSchemaKeys[key] {
				continue
			}
			result[key] = removeSchemaKeys(value, !propertyNames && key == "properties")
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = removeSchemaKeys(item, false)
		}
		return result
	default:
		return v
	}
}
