package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the size of X25519 scalars, points and derived secrets.
const KeySize = 32

var (
	ErrInvalidPublicKey  = errors.New("crypto: invalid X25519 public key")
	ErrInvalidPrivateKey = errors.New("crypto: invalid X25519 private key")
)

// KeyPair is a Diffie-Hellman key pair. Private may be a derived secret
// rather than a freshly sampled scalar; Public always matches it.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// Clone returns a deep copy of kp.
func (kp KeyPair) Clone() KeyPair {
	return KeyPair{
		Public:  append([]byte(nil), kp.Public...),
		Private: append([]byte(nil), kp.Private...),
	}
}

// IsZero reports whether kp holds no key material.
func (kp KeyPair) IsZero() bool {
	return len(kp.Public) == 0 && len(kp.Private) == 0
}

// GenerateX25519 generates a new X25519 key pair.
func GenerateX25519() (KeyPair, error) {
	priv := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return KeyPair{}, err
	}
	// Clamp private key per RFC 7748
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := X25519Public(priv)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// X25519Public returns the public point for a 32-byte private scalar.
// curve25519 clamps internally, so any 32-byte secret is accepted.
func X25519Public(priv []byte) ([]byte, error) {
	if len(priv) != KeySize {
		return nil, ErrInvalidPrivateKey
	}
	return curve25519.X25519(priv, curve25519.Basepoint)
}

// ECDH computes the raw X25519 shared secret.
// Callers must pass the result through a KDF before use.
func ECDH(priv, peerPub []byte) ([]byte, error) {
	if len(priv) != KeySize {
		return nil, ErrInvalidPrivateKey
	}
	var zero [KeySize]byte
	if len(peerPub) != KeySize || subtle.ConstantTimeCompare(peerPub, zero[:]) == 1 {
		return nil, ErrInvalidPublicKey
	}
	shared, err := curve25519.X25519(priv, peerPub)
	if err != nil {
		// low-order points yield an all-zero output, which x/crypto rejects
		return nil, errors.Wrap(ErrInvalidPublicKey, err.Error())
	}
	return shared, nil
}
