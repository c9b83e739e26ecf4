package client

import (
	"errors"
	"fmt"

	"github.com/luma/gwlink/protocol"
)

var (
	ErrNotConnected = errors.New("session is not connected")

	// ErrDisconnected is returned to waiters when the link drops before a
	// response arrives.
	ErrDisconnected = errors.New("link disconnected")

	ErrTimeout = errors.New("timed out waiting for a response")

	// ErrExchangeInFlight is returned by Issue while another exchange is
	// still outstanding.
	ErrExchangeInFlight = errors.New("an exchange is already in flight")

	// ErrMissingCorrelation means a command depends on an identifier that
	// no earlier response has provided.
	ErrMissingCorrelation = errors.New("missing correlated identifier")

	ErrPrecondition = errors.New("precondition failed")

	ErrSessionClosed = errors.New("session is closed")
)

// PreconditionError is returned when a command is refused before any of it
// was sent.
type PreconditionError struct {
	Command protocol.Command

	// Field is the identifier that could not be filled in, if any.
	Field string

	Err error
}

func (e *PreconditionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", e.Command, e.Field, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// TransportError wraps a failure reported by the Channel. After a failed send
// the session is disconnected and must be connected again.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
