package ratchet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// maxFieldLen limits a single length-prefixed field on the wire.
const maxFieldLen = 1 << 24

// EncryptedMessage is one ratcheted message. Link is the position of the
// key that encrypted it in the sender's chain; Signature authenticates
// Ciphertext under the sender's identity key.
type EncryptedMessage struct {
	Ciphertext []byte
	IV         []byte
	Link       uint64
	Signature  []byte
}

func (m EncryptedMessage) validate() error {
	if len(m.Ciphertext) == 0 {
		return errors.Wrap(ErrValidation, "message has no ciphertext")
	}
	if len(m.IV) == 0 {
		return errors.Wrap(ErrValidation, "message has no iv")
	}
	return nil
}

// MarshalBinary encodes m for wire transmission.
// Format:
//
//	8 bytes: link (big endian)
//	for ciphertext, iv, signature: 4 bytes length (big endian) || bytes
func (m EncryptedMessage) MarshalBinary() ([]byte, error) {
	for _, f := range [][]byte{m.Ciphertext, m.IV, m.Signature} {
		if len(f) > maxFieldLen {
			return nil, errors.New("ratchet: message field too large")
		}
	}
	out := make([]byte, 8, 8+12+len(m.Ciphertext)+len(m.IV)+len(m.Signature))
	binary.BigEndian.PutUint64(out[:8], m.Link)
	out = appendField(out, m.Ciphertext)
	out = appendField(out, m.IV)
	out = appendField(out, m.Signature)
	return out, nil
}

// UnmarshalBinary decodes a message produced by MarshalBinary.
func (m *EncryptedMessage) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return errors.New("ratchet: message too short")
	}
	var out EncryptedMessage
	out.Link = binary.BigEndian.Uint64(data[:8])
	rest := data[8:]
	var err error
	if out.Ciphertext, rest, err = readField(rest); err != nil {
		return err
	}
	if out.IV, rest, err = readField(rest); err != nil {
		return err
	}
	if out.Signature, rest, err = readField(rest); err != nil {
		return err
	}
	if len(rest) != 0 {
		return errors.New("ratchet: trailing bytes after message")
	}
	*m = out
	return nil
}

func appendField(out, f []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(f)))
	out = append(out, l[:]...)
	return append(out, f...)
}

func readField(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("ratchet: truncated field length")
	}
	n := binary.BigEndian.Uint32(data[:4])
	if n > maxFieldLen || int(n) > len(data)-4 {
		return nil, nil, errors.New("ratchet: truncated field")
	}
	if n == 0 {
		return nil, data[4:], nil
	}
	return append([]byte(nil), data[4:4+n]...), data[4+n:], nil
}
