package sockjs

import (
	"errors"
	"fmt"
)

// Connect failure kinds, carried in ConnectError.Err.
var (
	ErrConnectTimeout         = errors.New("sockjs: transport connect timed out")
	ErrTransportRejected      = errors.New("sockjs: transport rejected")
	ErrAllTransportsExhausted = errors.New("sockjs: all transports exhausted")
	ErrProtocolTimeout        = errors.New("sockjs: open frame not received in time")
)

// Send failure kinds, carried in SendError.Err.
var (
	// ErrNotOpen error is used to denote session or transport not in open state.
	ErrNotOpen          = errors.New("sockjs: session not in open state")
	ErrSendCancelled    = errors.New("sockjs: send cancelled")
	ErrTransportFailure = errors.New("sockjs: transport failure")
	// ErrInvalidMessage rejects messages that can not be carried by a JSON frame unchanged.
	ErrInvalidMessage = errors.New("sockjs: invalid message")
)

// Decode failure kinds, carried in DecodeError.Err.
var (
	ErrUnknownFrameType = errors.New("sockjs: unknown frame type")
	ErrMalformedFrame   = errors.New("sockjs: malformed frame body")
)

var (
	// ErrHeartbeatTimeout is reported in the Disconnected event when the server went silent.
	ErrHeartbeatTimeout = errors.New("sockjs: heartbeat timeout")
	// ErrSessionUsed is returned by Connect on a session that already negotiated once.
	ErrSessionUsed = errors.New("sockjs: session already used")

	errTransportRegistered = errors.New("sockjs: transport already registered")
	errTransportUnknown    = errors.New("sockjs: unknown transport")
)

// ConnectError describes a failed negotiation, either of a single candidate
// or of the whole Connect call.
type ConnectError struct {
	Transport string // empty for session level failures
	Err       error  // one of the ErrConnect* kinds
	Cause     error
}

func (e *ConnectError) Error() string {
	msg := e.Err.Error()
	if e.Transport != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Transport)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectError) Unwrap() []error { return unwrapPair(e.Err, e.Cause) }

// SendError is returned by Send.
type SendError struct {
	Err   error
	Cause error
}

func (e *SendError) Error() string {
	if e.Cause != nil {
		return e.Err.Error() + ": " + e.Cause.Error()
	}
	return e.Err.Error()
}

func (e *SendError) Unwrap() []error { return unwrapPair(e.Err, e.Cause) }

// DecodeError is returned by DecodeFrame.
type DecodeError struct {
	Err     error
	Payload string
	Cause   error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: %q", e.Err, truncate(e.Payload, 64))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error { return unwrapPair(e.Err, e.Cause) }

func unwrapPair(kind, cause error) []error {
	if cause == nil {
		return []error{kind}
	}
	return []error{kind, cause}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sendError(kind, cause error) error {
	if errors.Is(cause, ErrNotOpen) {
		return &SendError{Err: ErrNotOpen}
	}
	return &SendError{Err: kind, Cause: cause}
}
