package providers

import (
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEReader(t *testing.T) {
	input := ": keep-alive\n" +
		"event: chunk\n" +
		"data: {\"a\":1}\n\n" +
		"data:{\"b\":2}\n\n" +
		"data: \n\n" +
		"id: 7\n" +
		"data: not json\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"after\":true}\n\n"

	r := NewSSEReader(strings.NewReader(input))

	var got []string
	for {
		data, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(data))
	}
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`, "not json"}, got)
}

func TestSSEReader_EOFWithoutDone(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: {\"a\":1}\n"))
	data, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEReader_MultiLineData(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":\n" +
		"data: {\"content\":\"hi\"}}]}\n\n" +
		"data: {\"a\":1}\n\n" +
		"data: [DONE]\n\n"

	r := NewSSEReader(strings.NewReader(input))

	data, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "{\"choices\":[{\"delta\":\n{\"content\":\"hi\"}}]}", string(data))
	assert.True(t, json.Valid(data))

	data, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}
