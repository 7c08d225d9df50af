// Package errs defines the error vocabulary shared by every layer of the
// runtime: JSON-RPC wire codes, plus the application-level kinds the spec
// requires (transport, protocol, capability, session, timeout...).
package errs

import (
	"fmt"
	"strings"
)

// Code is a JSON-RPC 2.0 error code, or an application-level extension of
// it. Per the JSON-RPC spec, codes in -32768..-32000 are reserved; the
// teacher's application codes (-32001..-32005) live in that reserved band,
// and this package continues that numbering for the spec's additional kinds.
type Code int

// Standard JSON-RPC 2.0 codes.
const (
	ParseError     Code = -32700
	InvalidRequest Code = -32600
	MethodNotFound Code = -32601
	InvalidParams  Code = -32602
	InternalError  Code = -32603
)

// Application-level codes, continuing the teacher's reserved-band numbering.
const (
	ConfigurationError Code = -32001
	AuthenticationError Code = -32002
	APIError            Code = -32003
	NetworkError        Code = -32004
	RateLimitError      Code = -32005
	TransportError      Code = -32006
	CapabilityError     Code = -32007
	SessionError        Code = -32008
	TimeoutError        Code = -32009
	CircuitOpenError    Code = -32010
	ValidationError     Code = -32011
	CancelledError      Code = -32012
)

// Error is a JSON-RPC error object. It implements the error interface so it
// can flow through ordinary Go error handling until it reaches the layer
// that serializes a Response.
type Error struct {
	Code    Code        `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// New builds an *Error with no data payload.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches structured data to the error and returns it for chaining.
func (e *Error) WithData(data interface{}) *Error {
	e.Data = data
	return e
}

// FromError maps a generic error to an *Error, classifying by substring the
// same way the teacher's sendMappedError does, so any error raised deep in
// application code still surfaces with a sensible JSON-RPC code.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return classify(err.Error())
}

func classify(msg string) *Error {
	switch {
	case containsAny(msg, "unknown tool", "unknown method", "no handler"):
		return New(MethodNotFound, msg)
	case containsAny(msg, "authentication", "credentials", "unauthorized"):
		return New(AuthenticationError, msg)
	case containsAny(msg, "invalid", "required", "missing"):
		return New(InvalidParams, msg)
	case containsAny(msg, "network", "connection", "dial"):
		return New(NetworkError, msg)
	case containsAny(msg, "rate limit", "too many requests"):
		return New(RateLimitError, msg)
	case containsAny(msg, "circuit", "breaker open"):
		return New(CircuitOpenError, msg)
	case containsAny(msg, "timeout", "deadline exceeded"):
		return New(TimeoutError, msg)
	case containsAny(msg, "canceled", "cancelled", "context canceled"):
		return New(CancelledError, msg)
	case containsAny(msg, "session"):
		return New(SessionError, msg)
	case containsAny(msg, "capability", "capabilities"):
		return New(CapabilityError, msg)
	case containsAny(msg, "schema", "validation"):
		return New(ValidationError, msg)
	default:
		return New(InternalError, msg)
	}
}

func containsAny(s string, subs ...string) bool {
	ls := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(ls, sub) {
			return true
		}
	}
	return false
}
