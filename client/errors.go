package client

import (
	"fmt"

	"github.com/scribelog/scribec/protocol"
)

// ErrorKind classifies call failures so callers can tell a retryable
// connectivity problem from a collector rejection.
type ErrorKind uint32

const (
	_ ErrorKind = iota

	// Connectivity covers connect failures and dropped connections. The
	// caller may retry; the client itself never does.
	Connectivity
	// Protocol covers malformed or desynchronized wire traffic, including
	// unknown-method exceptions.
	Protocol
	// Application means the collector explicitly rejected the call.
	Application
	// MissingResult means the reply arrived without its result field. A
	// protocol-class failure, kept distinct from a collector rejection.
	MissingResult
)

func (k ErrorKind) String() string {
	switch k {
	case Connectivity:
		return "connectivity"
	case Protocol:
		return "protocol"
	case Application:
		return "application"
	case MissingResult:
		return "missing result"
	default:
		return "<invalid ErrorKind value>"
	}
}

// Error is a structured call failure.
type Error struct {
	Kind  ErrorKind
	Code  int32
	Msg   string
	cause error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsRetryable reports whether err is a connectivity failure worth retrying.
func IsRetryable(err error) bool {
	if cerr, ok := err.(*Error); ok {
		return cerr.Kind == Connectivity
	}
	return false
}

func connectivityErr(msg string, cause error) *Error {
	return &Error{Kind: Connectivity, Msg: msg, cause: cause}
}

func protocolErr(msg string, cause error) *Error {
	return &Error{Kind: Protocol, Msg: msg, cause: cause}
}

func missingResultErr(cause error) *Error {
	return &Error{Kind: MissingResult, Msg: "reply carried no result", cause: cause}
}

// exceptionErr maps a decoded collector exception onto the taxonomy.
// Unknown-method and its protocol-level siblings are wire contract
// violations, not collector policy.
func exceptionErr(exc *protocol.ApplicationException) *Error {
	kind := Application
	switch exc.Code {
	case protocol.ExcUnknownMethod, protocol.ExcInvalidMessageKind,
		protocol.ExcWrongMethodName, protocol.ExcBadSequenceID:
		kind = Protocol
	}
	return &Error{Kind: kind, Code: exc.Code, Msg: exc.Message}
}
