package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-bridge/internal/assembler"
	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
)

func TestFromOpenAIChunk(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  []Event
	}{
		{
			name:  "text delta",
			chunk: `{"choices":[{"delta":{"content":"He"}}]}`,
			want:  []Event{{Kind: EventText, Text: "He"}},
		},
		{
			name:  "empty content skipped",
			chunk: `{"choices":[{"delta":{"role":"assistant","content":""}}]}`,
			want:  nil,
		},
		{
			name:  "tool call start",
			chunk: `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"ls","arguments":""}}]}}]}`,
			want: []Event{{Kind: EventToolFragment, Fragment: assembler.Fragment{
				Slot: "0", ID: "toolu_9", Name: "ls",
			}}},
		},
		{
			name:  "tool call continuation",
			chunk: `{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"a\":"}}]}}]}`,
			want: []Event{{Kind: EventToolFragment, Fragment: assembler.Fragment{
				Slot: "1", Args: `{"a":`,
			}}},
		},
		{
			name:  "object arguments",
			chunk: `{"choices":[{"delta":{"tool_calls":[{"id":"x","function":{"name":"f","arguments":{"k":1}}}]}}]}`,
			want: []Event{{Kind: EventToolFragment, Fragment: assembler.Fragment{
				Slot: "x", ID: "x", Name: "f", Args: `{"k":1}`,
			}}},
		},
		{
			name:  "finish and usage",
			chunk: `{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`,
			want: []Event{
				{Kind: EventFinish, Reason: "stop"},
				{Kind: EventUsage, Usage: canonical.Usage{InputTokens: 12, OutputTokens: 3}},
			},
		},
		{
			name:  "usage only chunk",
			chunk: `{"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":2}}`,
			want:  []Event{{Kind: EventUsage, Usage: canonical.Usage{InputTokens: 1, OutputTokens: 2}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := FromOpenAIChunk([]byte(tt.chunk))
			require.NoError(t, err)
			assert.Equal(t, tt.want, events)
		})
	}
}

func TestFromOpenAIChunk_Malformed(t *testing.T) {
	for _, chunk := range []string{`{"choices":[`, `"text"`, ``} {
		_, err := FromOpenAIChunk([]byte(chunk))
		assert.ErrorIs(t, err, ErrMalformedChunk, chunk)
	}
}

func TestFromOpenAIChunk_StreamError(t *testing.T) {
	_, err := FromOpenAIChunk([]byte(`{"error":{"code":"429","message":"rate limited"}}`))

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "rate limited", streamErr.Message)
	assert.Contains(t, err.Error(), "429")
}

func TestGeminiNormalizer(t *testing.T) {
	n := NewGeminiNormalizer()

	events, err := n.Normalize([]byte(`{"candidates":[{"content":{"role":"model","parts":[
		{"text":"thinking...","thought":true},
		{"text":"Hi"},
		{"functionCall":{"name":"read","args":{"path":"a"}}},
		{"functionCall":{"name":"read","args":{"path":"b"}}}
	]}}]}`))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: EventText, Text: "Hi"}, events[0])
	assert.Equal(t, "g0", events[1].Fragment.Slot)
	assert.Equal(t, `{"path":"a"}`, events[1].Fragment.Args)
	assert.Equal(t, "g1", events[2].Fragment.Slot)

	events, err = n.Normalize([]byte(`{"candidates":[{"content":{"parts":[{"functionCall":{"id":"fc-1","name":"ls"}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":4}}`))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, assembler.Fragment{Slot: "fc-1", ID: "fc-1", Name: "ls"}, events[0].Fragment)
	assert.Equal(t, Event{Kind: EventFinish, Reason: "STOP"}, events[1])
	assert.Equal(t, canonical.Usage{InputTokens: 7, OutputTokens: 4}, events[2].Usage)
}

func TestGeminiNormalizer_ArrayAndErrors(t *testing.T) {
	n := NewGeminiNormalizer()

	events, err := n.Normalize([]byte(`[{"candidates":[{"content":{"parts":[{"text":"a"}]}}]},{"candidates":[{"content":{"parts":[{"text":"b"}]}}]}]`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[1].Text)

	_, err = n.Normalize([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedChunk)

	_, err = n.Normalize([]byte(`{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`))
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "INVALID_ARGUMENT", streamErr.Code)
}
