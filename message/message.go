// Package message defines the RPC message structure exchanged with the gateway.
//
// RPCMessage is the "envelope" for every BIN-RPC unit. It gets serialized by the
// codec layer and wrapped in a protocol frame for transmission over TCP.
package message

import (
	"fmt"
	"strings"
)

// Kind tells which of the three message shapes an RPCMessage holds.
type Kind uint8

const (
	KindCall     Kind = iota + 1 // Method + Args
	KindResponse                 // Result
	KindFault                    // Fault
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindResponse:
		return "response"
	case KindFault:
		return "fault"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// RPCMessage carries a single call, successful response or fault.
//
//   - On call:     Method and Args are set.
//   - On response: Result holds the returned value (nil means an empty response).
//   - On fault:    Fault holds the gateway's faultCode/faultString.
type RPCMessage struct {
	Kind   Kind
	Method string  // e.g. "getValue", "event", "system.multicall"
	Args   []Value // Ordered call arguments
	Result Value
	Fault  *Fault
}

// Fault is an application-level error returned inside a decoded response.
type Fault struct {
	Code    int32
	Message string
}

// unknownFailureMessage is the generic text the gateway sends with code -1
// when it could not execute a request at all.
const unknownFailureMessage = "Failure"

// IsUnknownFailure reports whether the fault is the gateway's generic
// "-1 Failure" answer rather than a business-level fault.
func (f *Fault) IsUnknownFailure() bool {
	return f != nil && f.Code == -1 && strings.EqualFold(strings.TrimSpace(f.Message), unknownFailureMessage)
}

func (f *Fault) String() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.Message)
}

func NewCall(method string, args ...Value) *RPCMessage {
	return &RPCMessage{Kind: KindCall, Method: method, Args: args}
}

func NewResponse(result Value) *RPCMessage {
	return &RPCMessage{Kind: KindResponse, Result: result}
}

func NewFault(code int32, msg string) *RPCMessage {
	return &RPCMessage{Kind: KindFault, Fault: &Fault{Code: code, Message: msg}}
}

func (m *RPCMessage) String() string {
	switch m.Kind {
	case KindCall:
		return fmt.Sprintf("%s%v", m.Method, m.Args)
	case KindResponse:
		return fmt.Sprintf("response(%v)", m.Result)
	case KindFault:
		return m.Fault.String()
	default:
		return "invalid message"
	}
}
