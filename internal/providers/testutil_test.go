package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-bridge/internal/canonical"
	"github.com/mihaisavezi/claude-code-bridge/internal/transcoder"
)

func parseRequest(t *testing.T, body string) *canonical.Request {
	t.Helper()
	req, err := canonical.ParseRequest([]byte(body))
	require.NoError(t, err)
	return req
}

// sseHandler streams the given data payloads followed by [DONE].
func sseHandler(t *testing.T, check func(r *http.Request), payloads ...string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			_, _ = w.Write([]byte("data: " + p + "\n\n"))
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}
}

// eventNames lists the event names of an SSE body in order.
func eventNames(body string) []string {
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
	}
	return names
}

type recordingEmitter struct {
	texts    []string
	calls    []canonical.ToolCall
	usage    *canonical.Usage
	finished bool
	onText   func()
}

func (e *recordingEmitter) Text(text string) error {
	e.texts = append(e.texts, text)
	if e.onText != nil {
		e.onText()
	}
	return nil
}

func (e *recordingEmitter) Finish(calls []canonical.ToolCall, usage *canonical.Usage) error {
	e.calls = calls
	e.usage = usage
	e.finished = true
	return nil
}

func (e *recordingEmitter) Fail(error) error { return transcoder.ErrNotStarted }

func (e *recordingEmitter) Started() bool { return len(e.texts) > 0 }

func newCall(req *canonical.Request, model string, emitter transcoder.Emitter) *Call {
	return &Call{Request: req, Model: model, InputTokens: 3, Emitter: emitter}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func canonicalUsage(in, out int) canonical.Usage {
	return canonical.Usage{InputTokens: in, OutputTokens: out}
}
