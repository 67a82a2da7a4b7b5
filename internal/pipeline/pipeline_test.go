package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/config"
)

type recordingHook struct {
	name   string
	err    error
	calls  *[]string
	chunks int
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) BeforeRequest(*RequestContext) error {
	*h.calls = append(*h.calls, h.name)
	return h.err
}

func (h *recordingHook) AfterStreamChunk(*RequestContext, []byte) { h.chunks++ }

func TestPipeline_RunsEveryHook(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	first := &recordingHook{name: "first", err: boom, calls: &calls}
	second := &recordingHook{name: "second", calls: &calls}

	p := New(first, second)
	rc := NewRequestContext(context.Background(), &canonical.Request{}, "openrouter", "m")

	err := p.BeforeRequest(rc)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "hook first")
	assert.Equal(t, []string{"first", "second"}, calls)

	p.AfterStreamChunk(rc, []byte(`{}`))
	p.AfterStreamChunk(rc, []byte(`{}`))
	assert.Equal(t, 2, first.chunks)
	assert.Equal(t, 2, second.chunks)
	assert.Equal(t, []string{"first", "second"}, p.Names())
}

func TestPipeline_Nil(t *testing.T) {
	var p *Pipeline
	rc := NewRequestContext(context.Background(), nil, "", "")
	assert.NoError(t, p.BeforeRequest(rc))
	p.AfterStreamChunk(rc, nil)
	assert.Nil(t, p.Names())
}

func TestBuiltin(t *testing.T) {
	tests := []struct {
		backend string
		want    []string
	}{
		{config.BackendGemini, []string{"signatures", "chunk-log"}},
		{config.BackendOpenRouter, []string{"reasoning-details", "chunk-log"}},
		{config.BackendLocal, []string{"reasoning-details", "chunk-log"}},
		{config.BackendAnthropic, []string{"chunk-log"}},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			assert.Equal(t, tt.want, Builtin(tt.backend, nil, false).Names())
		})
	}
}

func TestSignatures_BeforeRequest(t *testing.T) {
	req := &canonical.Request{Messages: []canonical.Message{
		{Role: canonical.RoleAssistant, ToolCalls: []canonical.ToolCall{
			{ID: "toolu_1_sig_YzJsbkxXRT0", Name: "read"},
			{ID: "toolu_2", Name: "write"},
		}},
		{
			Role:       canonical.RoleTool,
			ToolCallID: "toolu_1_sig_YzJsbkxXRT0",
			Content:    []canonical.Block{{Type: canonical.BlockToolResult, ToolUseID: "toolu_1_sig_YzJsbkxXRT0", Text: "ok"}},
		},
	}}

	rc := NewRequestContext(context.Background(), req, config.BackendGemini, "gemini-2.5-pro")
	require.NoError(t, (&Signatures{}).BeforeRequest(rc))

	calls := req.Messages[0].ToolCalls
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.Equal(t, "c2lnLWE=", calls[0].Signature)
	assert.Equal(t, "toolu_2", calls[1].ID)
	assert.Empty(t, calls[1].Signature)
	assert.Equal(t, "toolu_1", req.Messages[1].ToolCallID)
	assert.Equal(t, "toolu_1", req.Messages[1].Content[0].ToolUseID)
	assert.Equal(t, "read", req.ToolName("toolu_1"))
	assert.Equal(t, 1, rc.Metadata[MetaInboundSignatures])
}

func TestSignatures_AfterStreamChunk(t *testing.T) {
	rc := NewRequestContext(context.Background(), nil, config.BackendGemini, "gemini-2.5-pro")
	h := &Signatures{}

	h.AfterStreamChunk(rc, []byte(`{"candidates":[{"content":{"parts":[
		{"text":"thinking done"},
		{"functionCall":{"name":"a","args":{}},"thoughtSignature":"sig-a"}
	]}}]}`))
	h.AfterStreamChunk(rc, []byte(`not json`))
	h.AfterStreamChunk(rc, []byte(`{"candidates":[{"content":{"parts":[
		{"functionCall":{"name":"b","args":{}}},
		{"functionCall":{"id":"call-9","name":"c","args":{}},"thoughtSignature":"sig-c"}
	]}}]}`))

	assert.Equal(t, "sig-a", SignatureFor(rc, "g0"))
	assert.Empty(t, SignatureFor(rc, "g1"))
	assert.Equal(t, "sig-c", SignatureFor(rc, "call-9"))
}

func TestReasoningDetails(t *testing.T) {
	rc := NewRequestContext(context.Background(), nil, config.BackendOpenRouter, "x/y")
	h := &ReasoningDetails{}
	require.NoError(t, h.BeforeRequest(rc))

	h.AfterStreamChunk(rc, []byte(`{"choices":[{"delta":{"reasoning":"Let me ","reasoning_details":[{"type":"reasoning.text","text":"Let me "}]}}]}`))
	h.AfterStreamChunk(rc, []byte(`{"choices":[{"delta":{"reasoning":"think."}}]}`))
	h.AfterStreamChunk(rc, []byte(`{"choices":[{"delta":{"content":"Hi"}}]}`))
	h.AfterStreamChunk(rc, []byte(`{broken`))

	text, details := Reasoning(rc)
	assert.Equal(t, "Let me think.", text)
	require.Len(t, details, 1)
	assert.JSONEq(t, `{"type":"reasoning.text","text":"Let me "}`, string(details[0]))
}

func TestReasoning_Empty(t *testing.T) {
	rc := NewRequestContext(context.Background(), nil, "", "")
	text, details := Reasoning(rc)
	assert.Empty(t, text)
	assert.Equal(t, []json.RawMessage(nil), details)
}

func TestChunkLog(t *testing.T) {
	rc := NewRequestContext(context.Background(), &canonical.Request{}, config.BackendLocal, "m")
	h := &ChunkLog{Verbose: true}

	require.NoError(t, h.BeforeRequest(rc))
	h.AfterStreamChunk(rc, []byte("abc"))
	h.AfterStreamChunk(rc, []byte("de"))

	chunks, size := ChunkStats(rc)
	assert.Equal(t, 2, chunks)
	assert.Equal(t, 5, size)
}
