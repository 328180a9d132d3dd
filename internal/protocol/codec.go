package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame layout (big-endian):
//
//	byte  0      message type
//	bytes 1..8   timestamp, int64 unix-millis
//	bytes 9..12  payload length, uint32
//	bytes 13..   JSON payload
//
// The fixed header lets the dispatcher route on type without touching the
// payload; the short-id scheme (not the codec) is what keeps the heavy clip
// update stream small.
const (
	// HeaderSize is the fixed envelope header length in bytes.
	HeaderSize = 13

	// MaxPayloadSize caps a single frame's payload at 1 MiB.
	MaxPayloadSize = 1 << 20
)

var (
	ErrFrameTooShort    = errors.New("protocol: frame shorter than header")
	ErrLengthMismatch   = errors.New("protocol: payload length mismatch")
	ErrPayloadTooLarge  = errors.New("protocol: payload exceeds 1MiB limit")
	ErrUnregisteredType = errors.New("protocol: unregistered message type")
)

// Envelope is one discriminated wire message. Payload stays raw until a typed
// accessor decodes it.
type Envelope struct {
	Type      MsgType
	Timestamp int64 // unix millis
	Payload   json.RawMessage
}

// Encode marshals payload and frames it. A nil payload encodes as an empty
// payload section (used by Ping/Pong and other bodyless kinds).
func Encode(t MsgType, payload any) ([]byte, error) {
	return EncodeAt(t, time.Now().UnixMilli(), payload)
}

// EncodeAt is Encode with an explicit timestamp, for tests and relays that
// preserve the sender's clock.
func EncodeAt(t MsgType, timestamp int64, payload any) ([]byte, error) {
	if !t.Registered() {
		return nil, fmt.Errorf("%w: %d", ErrUnregisteredType, t)
	}
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
	}
	return EncodeRaw(t, timestamp, body)
}

// EncodeRaw frames an already-serialized payload without re-marshaling. Fan-out
// paths use it to serialize once per broadcast instead of once per recipient.
func EncodeRaw(t MsgType, timestamp int64, body []byte) ([]byte, error) {
	if len(body) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	frame := make([]byte, HeaderSize+len(body))
	frame[0] = byte(t)
	binary.BigEndian.PutUint64(frame[1:9], uint64(timestamp))
	binary.BigEndian.PutUint32(frame[9:13], uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// Decode parses a binary frame into an envelope. The payload is not
// unmarshaled; use the typed accessors.
func Decode(frame []byte) (Envelope, error) {
	if len(frame) < HeaderSize {
		return Envelope{}, ErrFrameTooShort
	}
	t := MsgType(frame[0])
	if !t.Registered() {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnregisteredType, frame[0])
	}
	n := binary.BigEndian.Uint32(frame[9:13])
	if n > MaxPayloadSize {
		return Envelope{}, ErrPayloadTooLarge
	}
	if int(n) != len(frame)-HeaderSize {
		return Envelope{}, ErrLengthMismatch
	}
	return Envelope{
		Type:      t,
		Timestamp: int64(binary.BigEndian.Uint64(frame[1:9])),
		Payload:   json.RawMessage(frame[HeaderSize:]),
	}, nil
}

// Payload decodes the envelope body into T. Used by the dispatcher after
// routing on Type.
func Payload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, fmt.Errorf("%s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("%s payload: %w", env.Type, err)
	}
	return out, nil
}

// Type guards used by the dispatcher for routing.
func (e Envelope) IsPing() bool        { return e.Type == MsgPing }
func (e Envelope) IsJoinMatch() bool   { return e.Type == MsgJoinMatch }
func (e Envelope) IsClipUpdated() bool { return e.Type == MsgClipUpdated }

func (e Envelope) IsClipEvent() bool {
	switch e.Type {
	case MsgClipAdded, MsgClipUpdated, MsgClipRemoved, MsgClipSplit, MsgClipBatchUpdate:
		return true
	}
	return false
}
