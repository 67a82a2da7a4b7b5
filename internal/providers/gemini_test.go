package providers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
	"github.com/mihaisavezi/claude-code-bridge/internal/transcoder"
)

func geminiFixture(t *testing.T, stream http.HandlerFunc) (*config.Config, *ContextWindowCache) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "g-key", r.Header.Get(geminiKeyHeader))
		switch {
		case strings.HasSuffix(r.URL.Path, ":streamGenerateContent"):
			stream(w, r)
		case strings.HasSuffix(r.URL.Path, ":countTokens"):
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "models/gemini-2.5-pro", gjson.GetBytes(body, "generateContentRequest.model").String())
			assert.True(t, gjson.GetBytes(body, "generateContentRequest.contents").IsArray())
			_, _ = w.Write([]byte(`{"totalTokens":57}`))
		default:
			_, _ = w.Write([]byte(`{"name":"models/gemini-2.5-pro","inputTokenLimit":1048576}`))
		}
	})
	srv := newServer(t, mux)

	cfg := config.Default()
	cfg.Gemini.APIBase = srv.URL
	cfg.Gemini.APIKey = "g-key"
	return cfg, NewContextWindowCache(GeminiWindowFetcher(cfg), nil)
}

func TestGemini_StreamWithSignatures(t *testing.T) {
	cfg, windows := geminiFixture(t, sseHandler(t, func(r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-pro:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
	},
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Let me look."}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"read","args":{"path":"a.go"}},"thoughtSignature":"c2lnLWE="}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"read","args":{"path":"b.go"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":11,"candidatesTokenCount":6}}`,
	))

	client := NewGemini(cfg, Options{Windows: windows})
	req := parseRequest(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"read both"}]}`)

	rec := httptest.NewRecorder()
	res, err := client.Generate(testContext(t), newCall(req, "gemini-2.5-pro", transcoder.New(rec, "gemini-2.5-pro", 3)))
	require.NoError(t, err)

	require.Len(t, res.ToolCalls, 2)
	assert.Equal(t, "c2lnLWE=", res.ToolCalls[0].Signature)
	assert.Equal(t, map[string]any{"path": "a.go"}, res.ToolCalls[0].Args)
	assert.Empty(t, res.ToolCalls[1].Signature)
	assert.Equal(t, map[string]any{"path": "b.go"}, res.ToolCalls[1].Args)
	assert.Equal(t, 1048576, res.ContextWindow)
	assert.Equal(t, canonicalUsage(11, 6), res.Usage)

	body := rec.Body.String()
	assert.Contains(t, body, `"id":"`+res.ToolCalls[0].ID+`_sig_YzJsbkxXRT0"`)
	assert.Equal(t, []string{
		"message_start", "content_block_start", "content_block_delta", "content_block_stop",
		"content_block_start", "content_block_stop",
		"content_block_start", "content_block_stop",
		"message_delta", "message_stop",
	}, eventNames(body))
}

func TestGemini_InboundSignatureForwarded(t *testing.T) {
	var payload []byte
	cfg, windows := geminiFixture(t, sseHandler(t, func(r *http.Request) {
		payload, _ = io.ReadAll(r.Body)
	}, `{"candidates":[{"content":{"parts":[{"text":"done"}]},"finishReason":"STOP"}]}`))

	client := NewGemini(cfg, Options{Windows: windows})
	req := parseRequest(t, `{"model":"gemini-2.5-pro","messages":[
		{"role":"user","content":"read"},
		{"role":"assistant","content":[{"type":"tool_use","id":"toolu_1_sig_YzJsbkxXRT0","name":"read","input":{"path":"a.go"}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1_sig_YzJsbkxXRT0","content":"package a"}]}
	]}`)

	_, err := client.Generate(testContext(t), newCall(req, "gemini-2.5-pro", &recordingEmitter{}))
	require.NoError(t, err)

	model := gjson.GetBytes(payload, "contents.1")
	assert.Equal(t, "model", model.Get("role").String())
	assert.Equal(t, "c2lnLWE=", model.Get("parts.0.thoughtSignature").String())
	assert.Equal(t, "read", gjson.GetBytes(payload, "contents.2.parts.0.functionResponse.name").String())
}

func TestGemini_CountTokens(t *testing.T) {
	cfg, windows := geminiFixture(t, nil)
	client := NewGemini(cfg, Options{Windows: windows})
	req := parseRequest(t, `{"model":"gemini-2.5-pro","system":"be brief","messages":[{"role":"user","content":"hi"}]}`)

	n, err := client.CountTokens(testContext(t), newCall(req, "gemini-2.5-pro", nil))
	require.NoError(t, err)
	assert.Equal(t, 57, n)
}

func TestGemini_ErrorStatus(t *testing.T) {
	cfg, windows := geminiFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Invalid JSON payload","status":"INVALID_ARGUMENT"}}`))
	})
	client := NewGemini(cfg, Options{Windows: windows})
	req := parseRequest(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`)

	_, err := client.Generate(testContext(t), newCall(req, "gemini-2.5-pro", &recordingEmitter{}))
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "invalid_request_error", be.Type)
	assert.Equal(t, "Invalid JSON payload", be.Message)
}
