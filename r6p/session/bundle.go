package session

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/ratchet"
)

// SignedPublicKey is a ratchet public key signed by an identity key.
type SignedPublicKey struct {
	PublicKey []byte `json:"publicKey"`
	Signature []byte `json:"signature"`
}

// KeyBundle is what a party publishes so a peer can derive a shared secret
// with it.
type KeyBundle struct {
	IdentityPublicKey []byte          `json:"identityPublicKey"`
	SignedKey         SignedPublicKey `json:"signedKey"`
}

// Validate checks that every field is present. It does not check the
// signature.
func (b KeyBundle) Validate() error {
	switch {
	case len(b.IdentityPublicKey) == 0:
		return errors.Wrap(ratchet.ErrValidation, "bundle has no identity key")
	case len(b.SignedKey.PublicKey) == 0:
		return errors.Wrap(ratchet.ErrValidation, "bundle has no ratchet key")
	case len(b.SignedKey.Signature) == 0:
		return errors.Wrap(ratchet.ErrValidation, "bundle has no signature")
	}
	return nil
}

// PeerID identifies the party that published the bundle.
func (b KeyBundle) PeerID() identity.PeerID {
	return identity.PeerIDFromPublicKey(b.IdentityPublicKey)
}

func EncodeBundle(b KeyBundle) ([]byte, error) {
	return json.Marshal(b)
}

func DecodeBundle(data []byte) (KeyBundle, error) {
	var b KeyBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return KeyBundle{}, errors.Wrapf(ratchet.ErrValidation, "decode bundle: %v", err)
	}
	if err := b.Validate(); err != nil {
		return KeyBundle{}, err
	}
	return b, nil
}
