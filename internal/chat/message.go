// Package chat is the application protocol spoken over mesh data channels.
package chat

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame types.
const (
	TypeHello = "hello"
	TypeText  = "text"
)

var ErrUnknownType = errors.New("unknown frame type")

// Frame represents every data channel message.
type Frame struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HelloPayload introduces a peer once its channel opens.
type HelloPayload struct {
	Name    string `msgpack:"name"`
	Version string `msgpack:"version"`
}

// TextPayload is one chat line.
type TextPayload struct {
	Body   string `msgpack:"body"`
	SentAt int64  `msgpack:"sentAt"`
	// Direct marks a line sent to one peer rather than the room.
	Direct bool `msgpack:"direct"`
}

// DecodePayload decodes the frame payload into the provided struct
func (f Frame) DecodePayload(v any) error {
	return msgpack.Unmarshal(f.Payload, v)
}

// NewFrame creates a new Frame with the given type and payload
func NewFrame(t string, payload any) (Frame, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Type:    t,
		Payload: b,
	}, nil
}

// Encode builds and serializes a frame.
func Encode(t string, payload any) ([]byte, error) {
	f, err := NewFrame(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(f)
}

// Decode parses a frame and rejects types this version does not speak.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Type {
	case TypeHello, TypeText:
		return f, nil
	}
	return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
}
