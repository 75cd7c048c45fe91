package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/seu-repo/sigec-ve-client/internal/domain"
)

// Error is returned for every failed backend call. Kind is one of the domain
// sentinels, so callers match it with errors.Is.
type Error struct {
	Op     string
	Status int
	Kind   error
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("backend ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// apiError is the JSON error body of the façade.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a apiError) text() string {
	if a.Error != "" {
		return a.Error
	}
	return a.Message
}

// notConnected reports whether a 503 body means the device is offline rather
// than the backend being unavailable.
func notConnected(status int, body apiError) bool {
	return status == http.StatusServiceUnavailable &&
		strings.Contains(strings.ToLower(body.text()), "not connected")
}

// classify maps a non-2xx status to a domain sentinel.
func classify(status int, body apiError) error {
	switch {
	case notConnected(status, body):
		return domain.ErrNotConnected
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusConflict || status == http.StatusLocked:
		return domain.ErrNotConnected
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrUnauthorized
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.ErrTransient
	default:
		return domain.ErrDeviceRejected
	}
}
