package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	frames := []Frame{
		{Type: MessageTypeBundle, Payload: []byte(`{"identityPublicKey":"AA=="}`)},
		EpochFrame(MessageTypeRatchet, 7),
		{Type: MessageTypeClose},
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for i, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if got.Type != want.Type {
			t.Fatalf("frame %d: type %v, want %v", i, got.Type, want.Type)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("frame %d: payload mismatch", i)
		}
	}
	if buf.Len() != 0 {
		t.Fatalf("%d bytes left over", buf.Len())
	}
}

func TestFrameRejects(t *testing.T) {
	if err := WriteFrame(&bytes.Buffer{}, Frame{}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("zero type: %v", err)
	}
	big := Frame{Type: MessageTypeMessage, Payload: make([]byte, MaxFramePayload+1)}
	if err := WriteFrame(&bytes.Buffer{}, big); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized: %v", err)
	}
	hdr := []byte{byte(MessageTypeMessage), 0xff, 0xff, 0xff, 0xff}
	if _, err := ReadFrame(bytes.NewReader(hdr)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized header: %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{byte(MessageTypeAck), 0, 0, 0, 8, 1})); err == nil {
		t.Fatalf("truncated payload accepted")
	}
}

func TestEpoch(t *testing.T) {
	f := EpochFrame(MessageTypeAck, 1<<40)
	e, err := DecodeEpoch(f.Payload)
	if err != nil || e != 1<<40 {
		t.Fatalf("DecodeEpoch = %d, %v", e, err)
	}
	if _, err := DecodeEpoch([]byte{1, 2}); !errors.Is(err, ErrBadEpoch) {
		t.Fatalf("short epoch: %v", err)
	}
}
