package ratchet

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/identity"
)

// DHSession is the Diffie-Hellman layer of a session. The identity key
// pair is assigned once and never replaced; the ratchet key pair is
// replaced wholesale by every successful key operation.
type DHSession struct {
	mu        sync.Mutex
	cfg       Config
	identity  identity.KeyPair
	ratchet   crypto.KeyPair
	signature []byte
}

func NewDHSession(cfg Config) *DHSession {
	return &DHSession{cfg: cfg.normalize()}
}

// GenerateBaseKeys creates the identity key pair if the session has none
// (adopting override when given), then generates a fresh ratchet key pair
// and signs its public key. Calling it again rotates the ratchet key pair.
// An override that differs from an already assigned identity is rejected.
func (d *DHSession) GenerateBaseKeys(override *identity.KeyPair) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.identity
	if id.IsZero() {
		var err error
		if id, err = d.newIdentity(override); err != nil {
			d.cfg.Logger.Errorf("Unable to establish identity key: %v", err)
			return err
		}
	} else if override != nil && !override.Equal(d.identity) {
		d.cfg.Logger.Errorf("Refusing to replace an assigned identity key")
		return errors.Wrap(ErrValidation, "identity already assigned")
	}

	kp, err := d.cfg.Provider.GenerateKeyPair()
	if err != nil {
		d.cfg.Logger.Errorf("Unable to generate ratchet key pair: %v", err)
		return primitiveErr(err, "generate ratchet key pair")
	}
	sig, err := d.sign(kp.Public, id.PrivateKey)
	if err != nil {
		d.cfg.Logger.Errorf("Unable to sign ratchet public key: %v", err)
		return err
	}

	d.identity = id
	crypto.Wipe(d.ratchet.Private)
	d.ratchet = kp
	d.signature = sig
	return nil
}

func (d *DHSession) newIdentity(override *identity.KeyPair) (identity.KeyPair, error) {
	scheme := d.cfg.Provider.SignatureScheme()
	if override != nil {
		if override.IsZero() {
			return identity.KeyPair{}, errors.Wrap(ErrValidation, "empty identity override")
		}
		if override.Scheme != scheme {
			return identity.KeyPair{}, errors.Wrapf(ErrValidation,
				"identity scheme %v does not match provider scheme %v", override.Scheme, scheme)
		}
		return override.Clone(), nil
	}
	pub, priv, err := d.cfg.Provider.GenerateIdentity()
	if err != nil {
		return identity.KeyPair{}, primitiveErr(err, "generate identity")
	}
	return identity.KeyPair{Scheme: scheme, PublicKey: pub, PrivateKey: priv}, nil
}

func (d *DHSession) sign(data, private []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrValidation, "nothing to sign")
	}
	if len(private) == 0 {
		return nil, errors.Wrap(ErrValidation, "no signing key")
	}
	sig, _, err := d.cfg.Provider.Sign(data, private)
	if err != nil {
		return nil, primitiveErr(err, "sign")
	}
	return sig, nil
}

// CreateSharedSecret verifies that peerPublic was signed by peerIdentity,
// then replaces the local ratchet private key with the secret combined from
// it and peerPublic. The public key is refreshed to match and re-signed.
// It returns a copy of the new secret. On any failure nothing changes.
func (d *DHSession) CreateSharedSecret(peerIdentity, peerPublic, peerSignature []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(peerIdentity) == 0 || len(peerPublic) == 0 || len(peerSignature) == 0 {
		d.cfg.Logger.Warnf("Refusing to create shared secret from incomplete peer keys")
		return nil, errors.Wrap(ErrValidation, "incomplete peer keys")
	}
	if len(d.ratchet.Private) == 0 {
		d.cfg.Logger.Warnf("Refusing to create shared secret before base keys exist")
		return nil, errors.Wrap(ErrValidation, "no ratchet key pair")
	}
	if !d.cfg.Provider.Verify(peerPublic, peerSignature, peerIdentity) {
		d.cfg.Logger.Warnf("Peer ratchet key signature does not verify against identity %s; "+
			"possible man-in-the-middle", identity.PeerIDFromPublicKey(peerIdentity).Short())
		return nil, errors.Wrap(ErrAuthentication, "peer ratchet key signature")
	}

	secret, err := d.cfg.Provider.DHCombine(d.ratchet.Private, peerPublic, d.cfg.Salt)
	if err != nil {
		d.cfg.Logger.Errorf("Unable to combine keys for shared secret: %v", err)
		return nil, primitiveErr(err, "dh combine")
	}
	if err := d.replacePrivate(secret); err != nil {
		crypto.Wipe(secret)
		d.cfg.Logger.Errorf("Unable to adopt shared secret: %v", err)
		return nil, err
	}
	return append([]byte(nil), secret...), nil
}

// Ratchet applies one KDF step to the ratchet private key. The previous
// key cannot be recovered. It returns a copy of the new key.
func (d *DHSession) Ratchet() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.ratchet.Private) == 0 {
		d.cfg.Logger.Warnf("Refusing to ratchet before base keys exist")
		return nil, errors.Wrap(ErrValidation, "no ratchet key pair")
	}
	next, err := d.cfg.Provider.DeriveKey(d.ratchet.Private, d.cfg.Salt, crypto.LabelDHRatchet, crypto.KeySize)
	if err != nil {
		d.cfg.Logger.Errorf("Unable to ratchet Diffie-Hellman key: %v", err)
		return nil, primitiveErr(err, "derive ratchet key")
	}
	if err := d.replacePrivate(next); err != nil {
		crypto.Wipe(next)
		d.cfg.Logger.Errorf("Unable to adopt ratcheted key: %v", err)
		return nil, err
	}
	return append([]byte(nil), next...), nil
}

// replacePrivate derives the public key and signature for private and
// commits all three, or nothing.
func (d *DHSession) replacePrivate(private []byte) error {
	pub, err := d.cfg.Provider.PublicKey(private)
	if err != nil {
		return primitiveErr(err, "derive public key")
	}
	sig, err := d.sign(pub, d.identity.PrivateKey)
	if err != nil {
		return err
	}
	crypto.Wipe(d.ratchet.Private)
	d.ratchet = crypto.KeyPair{Public: pub, Private: private}
	d.signature = sig
	return nil
}

// SignKey signs data with the identity private key, or with privateOverride
// when one is supplied.
func (d *DHSession) SignKey(data, privateOverride []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	priv := d.identity.PrivateKey
	if len(privateOverride) > 0 {
		priv = privateOverride
	}
	sig, err := d.sign(data, priv)
	if err != nil {
		d.cfg.Logger.Errorf("Unable to sign %d bytes: %v", len(data), err)
		return nil, err
	}
	return sig, nil
}

// VerifyKey reports whether signature over data verifies against identityKey.
func (d *DHSession) VerifyKey(data, signature, identityKey []byte) bool {
	if len(data) == 0 || len(signature) == 0 || len(identityKey) == 0 {
		d.cfg.Logger.Warnf("Refusing to verify with empty data, signature or key")
		return false
	}
	ok := d.cfg.Provider.Verify(data, signature, identityKey)
	if !ok {
		d.cfg.Logger.Warnf("Signature does not verify against identity %s",
			identity.PeerIDFromPublicKey(identityKey).Short())
	}
	return ok
}

// IdentityPublicKey returns the identity public key, or nil before
// GenerateBaseKeys.
func (d *DHSession) IdentityPublicKey() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.identity.PublicKey...)
}

// SignedPublicKey returns the ratchet public key and its identity signature.
func (d *DHSession) SignedPublicKey() (publicKey, signature []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.ratchet.Public...), append([]byte(nil), d.signature...)
}
