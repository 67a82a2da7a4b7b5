package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var (
	// ErrNoBackend means the router found no configured backend for a model.
	ErrNoBackend = errors.New("no backend configured for model")
	// ErrCountUnsupported means the backend has no token counting endpoint.
	ErrCountUnsupported = errors.New("backend does not count tokens")
	// ErrAborted means a response failed after bytes reached the client.
	ErrAborted = errors.New("response aborted after it started")
)

// BackendError is a failure talking to a backend: either a transport error
// (Status 0) or a non-success HTTP status. It is never retried.
type BackendError struct {
	Backend string
	Status  int
	Type    string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s backend request failed: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s backend returned %d: %s", e.Backend, e.Status, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func transportError(backend string, err error) *BackendError {
	return &BackendError{Backend: backend, Type: "api_error", Message: err.Error(), Err: err}
}

// MapHTTPError classifies a non-success backend response.
func MapHTTPError(backend string, status int, body []byte) *BackendError {
	msg := extractUpstreamMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &BackendError{
		Backend: backend,
		Status:  status,
		Type:    errorType(status),
		Message: msg,
	}
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusServiceUnavailable, 529:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error", "0.error.message"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	return truncateRunes(strings.TrimSpace(string(body)), maxUpstreamMessage)
}

const maxUpstreamMessage = 200

// truncateRunes cuts s to at most n runes, marking the cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// ErrorType returns the canonical error type for err.
func ErrorType(err error) string {
	var be *BackendError
	if errors.As(err, &be) && be.Type != "" {
		return be.Type
	}
	return "api_error"
}
