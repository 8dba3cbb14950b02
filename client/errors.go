package client

import (
	"errors"
	"fmt"

	"hm-binrpc/message"
)

// ErrorKind classifies a failed call.
type ErrorKind int

const (
	// KindNone is returned by KindOf for errors that did not come from a send
	// attempt, such as a rate limiter giving up.
	KindNone ErrorKind = iota
	// KindTransport covers dial, read, write, timeout and decode failures.
	KindTransport
	// KindUnknownFailure is the gateway's generic "-1 Failure" fault.
	KindUnknownFailure
	// KindFault is any other fault returned by the gateway.
	KindFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnknownFailure:
		return "unknown failure"
	case KindFault:
		return "fault"
	}
	return "none"
}

var (
	ErrUnknownInterface = errors.New("client: interface not configured")
	ErrUnexpectedResult = errors.New("client: unexpected result type")
)

// Error is returned by Invoke for every classified failure.
type Error struct {
	Kind   ErrorKind
	Method string
	Port   int
	// Code and Message are set for KindFault and KindUnknownFailure.
	Code    int32
	Message string
	// Err is the underlying transport error for KindTransport.
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindFault, KindUnknownFailure:
		return fmt.Sprintf("client: %s on port %d: %s (%d: %s)", e.Method, e.Port, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("client: %s on port %d: %s: %v", e.Method, e.Port, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fault returns the gateway fault, or nil for transport errors.
func (e *Error) Fault() *message.Fault {
	if e.Kind != KindFault && e.Kind != KindUnknownFailure {
		return nil
	}
	return &message.Fault{Code: e.Code, Message: e.Message}
}

// KindOf returns the kind of err, or KindNone when err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// IsUnknownFailure reports whether err is the gateway's generic failure fault.
func IsUnknownFailure(err error) bool {
	return KindOf(err) == KindUnknownFailure
}

func faultError(method string, port int, f *message.Fault) *Error {
	kind := KindFault
	if f.IsUnknownFailure() {
		kind = KindUnknownFailure
	}
	return &Error{Kind: kind, Method: method, Port: port, Code: f.Code, Message: f.Message}
}

func transportError(method string, port int, err error) *Error {
	return &Error{Kind: KindTransport, Method: method, Port: port, Err: err}
}
