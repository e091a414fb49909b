package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrEmptyKey           = errors.New("crypto: empty key")
	ErrInvalidKeySize     = errors.New("crypto: invalid symmetric key size")
	ErrInvalidIV          = errors.New("crypto: invalid iv size")
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

// CipherSuite selects the symmetric cipher used for message payloads.
type CipherSuite uint8

const (
	CipherAES256GCM CipherSuite = iota
	CipherChaCha20Poly1305
)

func (c CipherSuite) String() string {
	switch c {
	case CipherAES256GCM:
		return "AES-256-GCM"
	case CipherChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return "UNKNOWN"
	}
}

// ParseCipherSuite maps a suite name as printed by String back to its value.
func ParseCipherSuite(s string) (CipherSuite, error) {
	switch s {
	case "", "aes", "AES-256-GCM":
		return CipherAES256GCM, nil
	case "chacha", "ChaCha20-Poly1305":
		return CipherChaCha20Poly1305, nil
	}
	return 0, errors.Errorf("crypto: unknown cipher suite %q", s)
}

func (c CipherSuite) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	switch c {
	case CipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case CipherChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, errors.Errorf("crypto: unsupported cipher suite %d", c)
	}
}

// Seal encrypts and authenticates plaintext under key with a fresh random IV.
func (c CipherSuite) Seal(plaintext, key []byte) (ciphertext, iv []byte, err error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), iv, nil
}

// Open decrypts and verifies ciphertext produced by Seal.
func (c CipherSuite) Open(ciphertext, iv, key []byte) ([]byte, error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, ErrInvalidIV
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
