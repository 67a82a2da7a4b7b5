package providers

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
)

const (
	acceptEncoding = "gzip, br"
	maxErrorBody   = 64 * 1024
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// decompressReader wraps the body according to Content-Encoding. Closing the
// result also closes the body.
func decompressReader(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return readCloser{Reader: gz, closers: []io.Closer{gz, resp.Body}}, nil
	case "br":
		return readCloser{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc readCloser) Close() error {
	var first error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// readErrorBody reads a bounded, decompressed error body.
func readErrorBody(resp *http.Response) []byte {
	body, err := decompressReader(resp)
	if err != nil {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return data
}

// copyHeaders copies backend response headers, minus the ones describing an
// encoding that was already undone.
func copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if key == "Content-Encoding" || key == "Content-Length" {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
}

func flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// getJSON fetches a small JSON document.
func getJSON(ctx context.Context, client *http.Client, backend, url string, header http.Header) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", ContentTypeJSON)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := client.Do(req)
	if err != nil {
		return gjson.Result{}, transportError(backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return gjson.Result{}, MapHTTPError(backend, resp.StatusCode, readErrorBody(resp))
	}

	body, err := decompressReader(resp)
	if err != nil {
		return gjson.Result{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, 16*1024*1024))
	if err != nil {
		return gjson.Result{}, transportError(backend, err)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%s: invalid JSON from %s", backend, url)
	}
	return gjson.ParseBytes(data), nil
}
