package commons

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a bridge failure. The kind decides whether a session
// survives the error or must be torn down.
type ErrorKind string

const (
	// ErrConfiguration covers missing or invalid session configuration. The
	// session never reaches the active state.
	ErrConfiguration ErrorKind = "configuration"

	// ErrTransport covers WebSocket drops and framing failures. Fatal on the
	// telephony side; retried with backoff on the AI side.
	ErrTransport ErrorKind = "transport"

	// ErrProtocol covers unexpected messages, bad base64 and wrong sample
	// lengths. The offending frame is dropped; the session continues.
	ErrProtocol ErrorKind = "protocol"

	// ErrTimeout covers state-entry deadlines (configuring, awaiting start).
	ErrTimeout ErrorKind = "timeout"

	// ErrBackpressure covers observer/storage queue overflow. Never fatal.
	ErrBackpressure ErrorKind = "backpressure"

	// ErrInvariant covers internal bug guards, e.g. outbound media before the
	// stream id is known. Fatal to the session, never to the process.
	ErrInvariant ErrorKind = "invariant"
)

// BridgeError is the typed error carried through session teardown and
// surfaced to observers as the termination reason.
type BridgeError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BridgeError) Unwrap() error { return e.Err }

// Fatal reports whether the error must terminate the owning session.
func (e *BridgeError) Fatal() bool {
	switch e.Kind {
	case ErrProtocol, ErrBackpressure:
		return false
	}
	return true
}

// NewBridgeError wraps err with a kind and context message. err may be nil.
func NewBridgeError(kind ErrorKind, message string, err error) *BridgeError {
	return &BridgeError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrInvariant for
// untyped errors.
func KindOf(err error) ErrorKind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ErrInvariant
}
