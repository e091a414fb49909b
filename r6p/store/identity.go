package store

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/identity"
)

type identityRecord struct {
	Scheme     string `json:"scheme"`
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey"`
}

// SaveIdentity stores the local identity key pair.
func (s *Store) SaveIdentity(kp identity.KeyPair) error {
	b, err := json.Marshal(identityRecord{
		Scheme:     kp.Scheme.String(),
		PublicKey:  kp.PublicKey,
		PrivateKey: kp.PrivateKey,
	})
	if err != nil {
		return err
	}
	return s.put(identityKey, b)
}

// LoadIdentity returns the stored identity, or ErrNotFound.
func (s *Store) LoadIdentity() (identity.KeyPair, error) {
	raw, err := s.get(identityKey)
	if err != nil {
		return identity.KeyPair{}, err
	}
	var rec identityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return identity.KeyPair{}, errors.Wrap(err, "decode identity")
	}
	scheme, err := crypto.ParseScheme(rec.Scheme)
	if err != nil {
		return identity.KeyPair{}, err
	}
	return identity.NewKeyPair(scheme, rec.PublicKey, rec.PrivateKey)
}
