package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// MaxFramePayload limits a single protocol frame payload.
	MaxFramePayload = 1 << 20 // 1 MiB
)

var (
	ErrFrameTooLarge = errors.New("protocol frame payload too large")
	ErrInvalidType   = errors.New("protocol invalid message type")
	ErrBadEpoch      = errors.New("protocol malformed epoch payload")
)

// Frame is the basic wire container.
// Format:
//
//	1 byte: type
//	4 bytes: payload length (big endian)
//	N bytes: payload
//
// Frames are intended for a dedicated control stream.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// WriteFrame writes f in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 5, 5+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame and nothing past it, so consecutive
// calls on the same stream see consecutive frames.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	mt := MessageType(hdr[0])
	if mt == 0 {
		return Frame{}, ErrInvalidType
	}
	payloadLen := binary.BigEndian.Uint32(hdr[1:])
	if payloadLen > MaxFramePayload {
		return Frame{}, errors.Wrapf(ErrFrameTooLarge, "%d bytes", payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Type: mt, Payload: payload}, nil
}

// EpochFrame builds a RATCHET or ACK frame naming epoch.
func EpochFrame(t MessageType, epoch uint64) Frame {
	p := make([]byte, 8)
	binary.BigEndian.PutUint64(p, epoch)
	return Frame{Type: t, Payload: p}
}

// DecodeEpoch reads the epoch from a RATCHET or ACK payload.
func DecodeEpoch(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, ErrBadEpoch
	}
	return binary.BigEndian.Uint64(payload), nil
}
