package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/pkg/errors"
)

var (
	ErrInvalidSigningKey = errors.New("crypto: invalid signing key")
	ErrUnknownScheme     = errors.New("crypto: unknown signature scheme")
)

// Scheme identifies an identity signature algorithm.
type Scheme uint8

const (
	SchemeEd25519 Scheme = iota + 1
	SchemeMLDSA65
)

func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "Ed25519"
	case SchemeMLDSA65:
		return "ML-DSA-65"
	default:
		return "UNKNOWN"
	}
}

// ParseScheme maps a scheme name back to its value.
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "", "ed25519", "Ed25519":
		return SchemeEd25519, nil
	case "mldsa65", "ML-DSA-65":
		return SchemeMLDSA65, nil
	}
	return 0, errors.Wrapf(ErrUnknownScheme, "%q", s)
}

// Signer produces and checks identity signatures.
type Signer interface {
	Scheme() Scheme
	GenerateKey() (public, private []byte, err error)
	// Sign returns the signature over data and the public key matching private.
	Sign(data, private []byte) (sig, public []byte, err error)
	Verify(data, sig, public []byte) bool
}

// SignerFor returns the Signer implementing s.
func SignerFor(s Scheme) (Signer, error) {
	switch s {
	case SchemeEd25519:
		return Ed25519Signer{}, nil
	case SchemeMLDSA65:
		return MLDSA65Signer{}, nil
	}
	return nil, ErrUnknownScheme
}

// Ed25519Signer signs with Ed25519. It is the default scheme.
type Ed25519Signer struct{}

func (Ed25519Signer) Scheme() Scheme { return SchemeEd25519 }

func (Ed25519Signer) GenerateKey() ([]byte, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func (Ed25519Signer) Sign(data, private []byte) ([]byte, []byte, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, nil, ErrInvalidSigningKey
	}
	sk := ed25519.PrivateKey(private)
	pub := sk.Public().(ed25519.PublicKey)
	return ed25519.Sign(sk, data), append([]byte(nil), pub...), nil
}

func (Ed25519Signer) Verify(data, sig, public []byte) bool {
	if len(public) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(public), data, sig)
}

// MLDSA65Signer signs with the post-quantum ML-DSA-65 scheme.
type MLDSA65Signer struct{}

func (MLDSA65Signer) Scheme() Scheme { return SchemeMLDSA65 }

func (MLDSA65Signer) GenerateKey() ([]byte, []byte, error) {
	pk, sk, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func (MLDSA65Signer) Sign(data, private []byte) ([]byte, []byte, error) {
	var sk mldsa65.PrivateKey
	if err := sk.UnmarshalBinary(private); err != nil {
		return nil, nil, errors.Wrap(ErrInvalidSigningKey, err.Error())
	}
	pk, ok := sk.Public().(*mldsa65.PublicKey)
	if !ok {
		return nil, nil, ErrInvalidSigningKey
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(&sk, data, nil, false, sig); err != nil {
		return nil, nil, errors.Wrap(err, "mldsa65 sign")
	}
	return sig, pub, nil
}

func (MLDSA65Signer) Verify(data, sig, public []byte) bool {
	var pk mldsa65.PublicKey
	if err := pk.UnmarshalBinary(public); err != nil {
		return false
	}
	return mldsa65.Verify(&pk, data, nil, sig)
}
