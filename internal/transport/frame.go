// Package transport carries named events with positional JSON arguments
// over a websocket, with optional request/acknowledgment pairing.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Events raised locally by a Socket.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

var (
	ErrInvalidTarget = errors.New("invalid transport target")
	ErrNotConnected  = errors.New("socket not connected")
	ErrClosed        = errors.New("socket closed")
)

// Frame is one websocket text message. A request carries a non-zero ID;
// its acknowledgment echoes the ID with Ack set.
type Frame struct {
	Event string            `json:"event,omitempty"`
	Args  []json.RawMessage `json:"args"`
	ID    uint64            `json:"id,omitempty"`
	Ack   bool              `json:"ack,omitempty"`
}

// NewFrame encodes args positionally. Arguments that are already
// json.RawMessage are passed through.
func NewFrame(event string, args ...any) (*Frame, error) {
	raw, err := EncodeArgs(args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return &Frame{Event: event, Args: raw}, nil
}

// AckFrame answers the request with the given id.
func AckFrame(id uint64, args ...any) (*Frame, error) {
	raw, err := EncodeArgs(args...)
	if err != nil {
		return nil, fmt.Errorf("encode ack %d: %w", id, err)
	}
	return &Frame{ID: id, Ack: true, Args: raw}, nil
}

// EncodeArgs marshals each argument on its own.
func EncodeArgs(args ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		if raw, ok := a.(json.RawMessage); ok {
			out = append(out, raw)
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
