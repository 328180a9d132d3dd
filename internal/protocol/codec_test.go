package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	frame, err := EncodeAt(MsgChatMessage, 1700000000123, ChatMessage{MatchID: "m1", Message: "hello"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != MsgChatMessage {
		t.Fatalf("type = %v, want ChatMessage", env.Type)
	}
	if env.Timestamp != 1700000000123 {
		t.Fatalf("timestamp = %d, want 1700000000123", env.Timestamp)
	}

	msg, err := Payload[ChatMessage](env)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.MatchID != "m1" || msg.Message != "hello" {
		t.Fatalf("unexpected payload: %#v", msg)
	}
}

func TestDecodePreservesRawPayload(t *testing.T) {
	t.Parallel()
	body := []byte(`{"matchId":"m1","media":{"weird":  "spacing"}}`)
	frame, err := EncodeRaw(MsgMediaUploaded, 5, body)
	if err != nil {
		t.Fatalf("encode raw: %v", err)
	}
	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Relayed payloads must survive byte-for-byte: the hub re-frames without
	// re-marshaling.
	if !bytes.Equal(env.Payload, body) {
		t.Fatalf("payload mutated: %q", env.Payload)
	}
}

func TestEncodeFrameLayout(t *testing.T) {
	t.Parallel()
	frame, err := EncodeRaw(MsgPing, 0x0102030405060708, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) != HeaderSize {
		t.Fatalf("len = %d, want %d", len(frame), HeaderSize)
	}
	if frame[0] != byte(MsgPing) {
		t.Fatalf("type byte = %d, want %d", frame[0], MsgPing)
	}
	if ts := binary.BigEndian.Uint64(frame[1:9]); ts != 0x0102030405060708 {
		t.Fatalf("timestamp bytes = %x", ts)
	}
	if n := binary.BigEndian.Uint32(frame[9:13]); n != 0 {
		t.Fatalf("length bytes = %d, want 0", n)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"too short", []byte{1, 2, 3}, ErrFrameTooShort},
		{"unregistered type", func() []byte {
			f := make([]byte, HeaderSize)
			f[0] = 200
			return f
		}(), ErrUnregisteredType},
		{"length mismatch", func() []byte {
			f := make([]byte, HeaderSize+3)
			f[0] = byte(MsgPing)
			binary.BigEndian.PutUint32(f[9:13], 99)
			return f
		}(), ErrLengthMismatch},
		{"oversized length", func() []byte {
			f := make([]byte, HeaderSize)
			f[0] = byte(MsgPing)
			binary.BigEndian.PutUint32(f[9:13], MaxPayloadSize+1)
			return f
		}(), ErrPayloadTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.frame); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	t.Parallel()
	if _, err := EncodeRaw(MsgChatMessage, 0, make([]byte, MaxPayloadSize+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestMsgTypeString(t *testing.T) {
	t.Parallel()
	if got := MsgClipBatchUpdate.String(); got != "ClipBatchUpdate" {
		t.Fatalf("got %q", got)
	}
	if got := MsgType(250).String(); got != "Unknown(250)" {
		t.Fatalf("got %q", got)
	}
	if MsgType(0).Registered() {
		t.Fatal("type 0 must not be registered")
	}
}
