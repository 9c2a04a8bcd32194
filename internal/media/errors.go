package media

import (
	"errors"
	"fmt"
)

var (
	ErrNoSignaler       = errors.New("engine is not bound to a signaler")
	ErrAlreadyConnected = errors.New("peer connection already exists")
	ErrNoPeerConnection = errors.New("no peer connection")
	ErrMissingOffer     = errors.New("responder started without an offer")
	ErrConnectionFailed = errors.New("connection failed")
	ErrPeerLeft         = errors.New("peer left")
	ErrBadCandidate     = errors.New("invalid candidate")
)

// Error records the failed media operation alongside the cause.
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
