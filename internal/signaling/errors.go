package signaling

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownMessage   = errors.New("unknown message")
	ErrMalformedAck     = errors.New("malformed acknowledgment")
	ErrRejected         = errors.New("request rejected by server")
	ErrNoRoom           = errors.New("room id is required")
	ErrNoChannel        = errors.New("channel factory is required")
	ErrNoSink           = errors.New("signaling sink is required")
	ErrChannel          = errors.New("transport channel unavailable")
)

// Error records the failed operation alongside the cause.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
