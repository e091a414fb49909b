package crypto

import "github.com/pkg/errors"

// Provider is the set of primitives the ratchet layers depend on.
type Provider interface {
	// GenerateKeyPair returns a fresh Diffie-Hellman ratchet key pair.
	GenerateKeyPair() (KeyPair, error)
	// PublicKey re-derives the public half for a (possibly derived) private key.
	PublicKey(private []byte) ([]byte, error)
	// DHCombine returns a KDF-conditioned shared secret.
	DHCombine(private, peerPublic, salt []byte) ([]byte, error)

	// SignatureScheme names the scheme Sign and Verify implement.
	SignatureScheme() Scheme
	// GenerateIdentity returns a fresh long-term signing key pair.
	GenerateIdentity() (public, private []byte, err error)
	Sign(data, private []byte) (sig, public []byte, err error)
	Verify(data, sig, public []byte) bool

	DeriveKey(parent, salt, info []byte, length int) ([]byte, error)

	Encrypt(plaintext, key []byte) (ciphertext, iv []byte, err error)
	Decrypt(ciphertext, iv, key []byte) ([]byte, error)
}

// Suite is the stock Provider: X25519, HKDF-SHA256, a configurable
// symmetric cipher and a configurable signature scheme.
type Suite struct {
	Signer Signer
	Cipher CipherSuite
}

var _ Provider = Suite{}

// DefaultSuite is X25519 / Ed25519 / AES-256-GCM / HKDF-SHA256.
func DefaultSuite() Suite {
	return Suite{Signer: Ed25519Signer{}, Cipher: CipherAES256GCM}
}

// NewSuite builds a Suite from a signature scheme and cipher selection.
func NewSuite(scheme Scheme, cipher CipherSuite) (Suite, error) {
	signer, err := SignerFor(scheme)
	if err != nil {
		return Suite{}, err
	}
	return Suite{Signer: signer, Cipher: cipher}, nil
}

func (s Suite) signer() Signer {
	if s.Signer == nil {
		return Ed25519Signer{}
	}
	return s.Signer
}

func (s Suite) GenerateKeyPair() (KeyPair, error) { return GenerateX25519() }

func (s Suite) PublicKey(private []byte) ([]byte, error) { return X25519Public(private) }

func (s Suite) DHCombine(private, peerPublic, salt []byte) ([]byte, error) {
	shared, err := ECDH(private, peerPublic)
	if err != nil {
		return nil, err
	}
	defer Wipe(shared)
	return DeriveKey(shared, salt, LabelSharedSecret, KeySize)
}

func (s Suite) SignatureScheme() Scheme { return s.signer().Scheme() }

func (s Suite) GenerateIdentity() ([]byte, []byte, error) { return s.signer().GenerateKey() }

func (s Suite) Sign(data, private []byte) ([]byte, []byte, error) {
	if len(data) == 0 {
		return nil, nil, errors.New("crypto: nothing to sign")
	}
	return s.signer().Sign(data, private)
}

func (s Suite) Verify(data, sig, public []byte) bool {
	if len(data) == 0 || len(sig) == 0 || len(public) == 0 {
		return false
	}
	return s.signer().Verify(data, sig, public)
}

func (s Suite) DeriveKey(parent, salt, info []byte, length int) ([]byte, error) {
	return DeriveKey(parent, salt, info, length)
}

func (s Suite) Encrypt(plaintext, key []byte) ([]byte, []byte, error) {
	return s.Cipher.Seal(plaintext, key)
}

func (s Suite) Decrypt(ciphertext, iv, key []byte) ([]byte, error) {
	return s.Cipher.Open(ciphertext, iv, key)
}
