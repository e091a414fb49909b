package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DefaultSalt is the public salt both peers agree on out of band.
var DefaultSalt = []byte{168, 244, 151, 155, 119, 227, 249, 63}

// Labels bind derived keys to their purpose.
var (
	LabelSharedSecret = []byte("r6p shared secret")
	LabelDHRatchet    = []byte("r6p dh ratchet")
	LabelChainKey     = []byte("r6p chain key")
	LabelMessageKey   = []byte("r6p message key")
)

// DeriveKey derives a key of the specified length using HKDF-SHA256.
// salt can be nil (uses zero salt), info provides context binding.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyKey
	}
	hk := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}
