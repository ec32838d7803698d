package loupe

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorKind classifies a failure for routing and display.
type ErrorKind int

const (
	// KindTransport is a network-level failure other than a not-ready answer.
	KindTransport ErrorKind = iota

	// KindNotReady is a 404 from a backend route that is still initializing.
	// It is retried locally and only surfaced once retries are exhausted.
	KindNotReady

	// KindRender is an error string embedded in a success-shaped render response.
	KindRender

	// KindHandler is a failed handler invocation.
	KindHandler

	// KindConnection is a loss of the push channel.
	KindConnection

	// KindSchema is an inconsistent or structurally invalid schema.
	KindSchema

	// KindDecode is a payload that could not be decoded.
	KindDecode
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindNotReady:
		return "not_ready"
	case KindRender:
		return "render"
	case KindHandler:
		return "handler"
	case KindConnection:
		return "connection"
	case KindSchema:
		return "schema"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is the single structured error produced by every component. Backend
// responses are normalized into it at the transport boundary.
type Error struct {
	Kind ErrorKind

	// Op names the operation that failed, e.g. "render" or "handler typeahead".
	Op string

	// Status is the HTTP status code, or 0 when no response was received.
	Status int

	// Message is the backend-supplied message when the response carried one.
	Message string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case e.Status != 0:
		fmt.Fprintf(&b, "unexpected status %d", e.Status)
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns the human-readable cause without the operation prefix,
// preferring the backend message over the transport error.
func (e *Error) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Status != 0 {
		return http.StatusText(e.Status)
	}
	return e.Kind.String()
}

// IsNotReady reports whether err is a not-ready answer from the backend.
func IsNotReady(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindNotReady
}

// asError converts any error into an *Error, keeping existing ones intact.
func asError(op string, kind ErrorKind, err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// statusError builds an *Error from a non-2xx response. A structured body
// wins over the bare status: "error" and "message" keys are tried in order,
// then a string body, then nothing.
func statusError(op string, status int, body []byte) *Error {
	kind := KindTransport
	if status == http.StatusNotFound {
		kind = KindNotReady
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Status:  status,
		Message: bodyMessage(body),
	}
}

func bodyMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		if parsed.IsObject() {
			for _, path := range []string{"error.message", "error", "message"} {
				if v := parsed.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
					return v.String()
				}
			}
			return ""
		}
		if parsed.Type == gjson.String {
			return parsed.String()
		}
	}
	return strings.TrimSpace(string(body))
}
