package identity

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/TheusHen/r6p/r6p/crypto"
)

var (
	ErrEmptyKey        = errors.New("identity: empty key material")
	ErrKeyPairMismatch = errors.New("identity: public key does not match private key")
)

// KeyPair is the long-term signing identity of a session participant.
type KeyPair struct {
	Scheme     crypto.Scheme
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateKeyPair creates a fresh identity for the given signature scheme.
func GenerateKeyPair(scheme crypto.Scheme) (KeyPair, error) {
	signer, err := crypto.SignerFor(scheme)
	if err != nil {
		return KeyPair{}, err
	}
	pub, priv, err := signer.GenerateKey()
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Scheme: scheme, PublicKey: pub, PrivateKey: priv}, nil
}

// NewKeyPair adopts existing key material, checking that the public key is
// the one the private key signs for.
func NewKeyPair(scheme crypto.Scheme, publicKey, privateKey []byte) (KeyPair, error) {
	if len(publicKey) == 0 || len(privateKey) == 0 {
		return KeyPair{}, ErrEmptyKey
	}
	signer, err := crypto.SignerFor(scheme)
	if err != nil {
		return KeyPair{}, err
	}
	_, derived, err := signer.Sign(publicKey, privateKey)
	if err != nil {
		return KeyPair{}, err
	}
	if !bytes.Equal(derived, publicKey) {
		return KeyPair{}, ErrKeyPairMismatch
	}
	return KeyPair{
		Scheme:     scheme,
		PublicKey:  append([]byte(nil), publicKey...),
		PrivateKey: append([]byte(nil), privateKey...),
	}, nil
}

func (kp KeyPair) IsZero() bool { return len(kp.PublicKey) == 0 && len(kp.PrivateKey) == 0 }

// Equal reports whether both pairs hold the same key material.
func (kp KeyPair) Equal(other KeyPair) bool {
	return kp.Scheme == other.Scheme &&
		bytes.Equal(kp.PublicKey, other.PublicKey) &&
		bytes.Equal(kp.PrivateKey, other.PrivateKey)
}

func (kp KeyPair) Clone() KeyPair {
	return KeyPair{
		Scheme:     kp.Scheme,
		PublicKey:  append([]byte(nil), kp.PublicKey...),
		PrivateKey: append([]byte(nil), kp.PrivateKey...),
	}
}

func (kp KeyPair) PeerID() PeerID {
	return PeerIDFromPublicKey(kp.PublicKey)
}

func (kp KeyPair) Sign(message []byte) ([]byte, error) {
	signer, err := crypto.SignerFor(kp.Scheme)
	if err != nil {
		return nil, err
	}
	sig, _, err := signer.Sign(message, kp.PrivateKey)
	return sig, err
}

func Verify(scheme crypto.Scheme, publicKey, message, signature []byte) bool {
	signer, err := crypto.SignerFor(scheme)
	if err != nil {
		return false
	}
	return signer.Verify(message, signature, publicKey)
}
