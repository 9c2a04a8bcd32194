package media

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Data channel message types.
const (
	MessageTypeHello = "hello"
	MessageTypeBye   = "bye"
)

// Message is the envelope of every data channel message.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// Hello introduces a peer once the data channel opens.
type Hello struct {
	DeviceName    string `msgpack:"deviceName"`
	DeviceVersion string `msgpack:"deviceVersion"`
	ClientID      string `msgpack:"clientId"`
}

// NewMessage creates a Message with the given type and encoded payload.
func NewMessage(t string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: b}, nil
}

// DecodePayload decodes the payload into v.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// Marshal encodes the whole message for the wire.
func (m Message) Marshal() ([]byte, error) {
	return msgpack.Marshal(m)
}

// ParseMessage decodes a data channel frame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &msg, nil
}
