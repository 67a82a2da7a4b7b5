package providers

import (
	"bufio"
	"bytes"
	"io"
)

var donePayload = []byte("[DONE]")

// SSEReader yields the data payloads of an event stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)
	return &SSEReader{scanner: scanner}
}

// Next returns the payload of the next event. Consecutive data lines of
// one event are joined with newlines. It returns io.EOF at the [DONE]
// sentinel or at the end of input; a final event without its blank line is
// still delivered.
func (r *SSEReader) Next() ([]byte, error) {
	var (
		data  []byte
		lines int
	)
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			if payload := bytes.TrimSpace(data); len(payload) > 0 {
				return dispatch(payload)
			}
			data, lines = data[:0], 0
			continue
		}
		if line[0] == ':' {
			continue
		}
		value, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		if lines > 0 {
			data = append(data, '\n')
		}
		data = append(data, bytes.TrimPrefix(value, []byte(" "))...)
		lines++
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if payload := bytes.TrimSpace(data); len(payload) > 0 {
		return dispatch(payload)
	}
	return nil, io.EOF
}

func dispatch(payload []byte) ([]byte, error) {
	if bytes.Equal(payload, donePayload) {
		return nil, io.EOF
	}
	return payload, nil
}
