package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType string
		wantMsg  string
	}{
		{"openai style", http.StatusBadRequest, `{"error":{"message":"bad field"}}`, "invalid_request_error", "bad field"},
		{"auth", http.StatusUnauthorized, `{"message":"no key"}`, "authentication_error", "no key"},
		{"rate limit", http.StatusTooManyRequests, `{"error":"slow"}`, "rate_limit_error", "slow"},
		{"overloaded", 529, ``, "overloaded_error", ""},
		{"plain text", http.StatusBadGateway, "upstream down", "api_error", "upstream down"},
		{"gemini array", http.StatusNotFound, `[{"error":{"message":"model not found"}}]`, "not_found_error", "model not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapHTTPError("openrouter", tt.status, []byte(tt.body))
			assert.Equal(t, tt.status, err.Status)
			assert.Equal(t, tt.wantType, err.Type)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Message)
			}
			assert.Contains(t, err.Error(), "openrouter backend returned")
		})
	}
}

func TestMapHTTPError_TruncatesLongBodies(t *testing.T) {
	err := MapHTTPError("local", http.StatusInternalServerError, []byte(strings.Repeat("x", 500)))
	assert.Len(t, err.Message, 203)
}

func TestMapHTTPError_TruncatesOnRuneBoundary(t *testing.T) {
	body := "x" + strings.Repeat("é", 300)
	err := MapHTTPError("local", http.StatusBadGateway, []byte(body))

	assert.True(t, utf8.ValidString(err.Message))
	assert.Equal(t, 200, utf8.RuneCountInString(strings.TrimSuffix(err.Message, "...")))
	assert.True(t, strings.HasPrefix(err.Message, "xé"))
}

func TestErrorType(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", MapHTTPError("gemini", http.StatusForbidden, nil))
	assert.Equal(t, "permission_error", ErrorType(wrapped))
	assert.Equal(t, "api_error", ErrorType(errors.New("other")))

	cause := errors.New("dial tcp: refused")
	te := transportError("local", cause)
	assert.ErrorIs(t, te, cause)
	assert.Contains(t, te.Error(), "local backend request failed")
}
