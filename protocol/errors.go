package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCommand      = errors.New("invalid command")
	ErrInvalidFragmentSize = errors.New("fragment size must be at least 1")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrMessageTooLarge     = errors.New("message exceeds the maximum reassembly size")
	ErrStalled             = errors.New("partial message stalled waiting for the end marker")
)

// ParseError is returned when the end marker arrives but the accumulated
// buffer is not a JSON document. Raw holds the buffer for diagnostics.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("%s: empty message", ErrMalformedResponse)
	}

	return fmt.Sprintf("%s: %q", ErrMalformedResponse, e.Raw)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformedResponse
}

// RemoteError is a well formed response whose status reports a failure on the
// gateway.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "gateway returned an error"
	}

	return "gateway returned an error: " + e.Message
}
