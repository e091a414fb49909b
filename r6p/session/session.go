package session

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/decred/slog"
	"github.com/pkg/errors"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/ratchet"
)

// Session composes one Diffie-Hellman session with a send chain and a
// receive chain. Every operation holds the session lock for its whole
// duration, so ratchet steps on one session never interleave.
type Session struct {
	mu   sync.Mutex
	cfg  ratchet.Config
	dh   *ratchet.DHSession
	send *ratchet.Chain
	recv *ratchet.Chain

	peerIdentity []byte
	established  bool
}

// New creates a session with no keys. Call GenerateBundle first.
func New(cfg ratchet.Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Disabled
	}
	return &Session{
		cfg:  cfg,
		dh:   ratchet.NewDHSession(cfg),
		send: ratchet.NewChain(cfg),
		recv: ratchet.NewChain(cfg),
	}
}

// GenerateBundle creates the identity on first use (adopting override when
// given), rotates the ratchet key pair and returns the bundle to publish.
func (s *Session) GenerateBundle(override *identity.KeyPair) (KeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dh.GenerateBaseKeys(override); err != nil {
		return KeyBundle{}, err
	}
	return s.bundle(), nil
}

// Bundle returns the currently published bundle without rotating keys.
func (s *Session) Bundle() KeyBundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle()
}

func (s *Session) bundle() KeyBundle {
	pub, sig := s.dh.SignedPublicKey()
	return KeyBundle{
		IdentityPublicKey: s.dh.IdentityPublicKey(),
		SignedKey:         SignedPublicKey{PublicKey: pub, Signature: sig},
	}
}

// CreateSecretUsingBundle derives the shared secret with the bundle's owner
// and seeds both chains with it. A bundle whose key was not signed by its
// identity fails with ratchet.ErrAuthentication and changes nothing.
func (s *Session) CreateSecretUsingBundle(peer KeyBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := peer.Validate(); err != nil {
		s.cfg.Logger.Warnf("Refusing incomplete bundle: %v", err)
		return err
	}
	if !s.dh.VerifyKey(peer.SignedKey.PublicKey, peer.SignedKey.Signature, peer.IdentityPublicKey) {
		s.cfg.Logger.Warnf("Bundle from %s carries a ratchet key its identity did not sign; "+
			"possible man-in-the-middle", peer.PeerID().Short())
		return errors.Wrap(ratchet.ErrAuthentication, "bundle signature")
	}

	secret, err := s.dh.CreateSharedSecret(peer.IdentityPublicKey,
		peer.SignedKey.PublicKey, peer.SignedKey.Signature)
	if err != nil {
		return err
	}
	defer crypto.Wipe(secret)
	if err := s.reseed(secret); err != nil {
		return err
	}
	s.peerIdentity = append([]byte(nil), peer.IdentityPublicKey...)
	s.established = true
	return nil
}

func (s *Session) reseed(key []byte) error {
	if err := s.send.Reset(key); err != nil {
		s.cfg.Logger.Errorf("Unable to reseed send chain: %v", err)
		return err
	}
	if err := s.recv.Reset(key); err != nil {
		s.cfg.Logger.Errorf("Unable to reseed receive chain: %v", err)
		return err
	}
	return nil
}

// Encrypt seals plaintext on the send chain and signs the ciphertext with
// the identity key. The send link is only spent once the signature exists.
func (s *Session) Encrypt(plaintext []byte) (ratchet.EncryptedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.established {
		s.cfg.Logger.Warnf("Refusing to encrypt before a shared secret exists")
		return ratchet.EncryptedMessage{}, errors.Wrap(ratchet.ErrValidation, "session not established")
	}
	return s.send.EncryptSigned(plaintext, func(ciphertext []byte) ([]byte, error) {
		return s.dh.SignKey(ciphertext, nil)
	})
}

// Decrypt opens msg on the receive chain. It does not check msg.Signature;
// callers that need sender authentication call VerifyMessage first.
func (s *Session) Decrypt(msg ratchet.EncryptedMessage) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.established {
		s.cfg.Logger.Warnf("Refusing to decrypt before a shared secret exists")
		return nil, errors.Wrap(ratchet.ErrValidation, "session not established")
	}
	return s.recv.Decrypt(msg)
}

// VerifyMessage checks that msg was signed by peerIdentity. A nil
// peerIdentity means the identity from the bundle the session was built
// with.
func (s *Session) VerifyMessage(msg ratchet.EncryptedMessage, peerIdentity []byte) error {
	s.mu.Lock()
	if len(peerIdentity) == 0 {
		peerIdentity = s.peerIdentity
	}
	dh := s.dh
	s.mu.Unlock()

	if len(peerIdentity) == 0 {
		return errors.Wrap(ratchet.ErrValidation, "no peer identity to verify against")
	}
	if len(msg.Signature) == 0 {
		s.cfg.Logger.Warnf("Message at link %d is unsigned", msg.Link)
		return errors.Wrap(ratchet.ErrAuthentication, "message unsigned")
	}
	if !dh.VerifyKey(msg.Ciphertext, msg.Signature, peerIdentity) {
		return errors.Wrapf(ratchet.ErrAuthentication, "message at link %d", msg.Link)
	}
	return nil
}

// RatchetDiffieHellman advances the Diffie-Hellman key one step and reseeds
// both chains from it. Keys cached before the call are dropped and cannot
// be derived again. Both peers must ratchet at the same point in the
// message stream.
func (s *Session) RatchetDiffieHellman() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.established {
		s.cfg.Logger.Warnf("Refusing to ratchet before a shared secret exists")
		return errors.Wrap(ratchet.ErrValidation, "session not established")
	}
	key, err := s.dh.Ratchet()
	if err != nil {
		return err
	}
	defer crypto.Wipe(key)
	return s.reseed(key)
}

// PeerIdentity returns the identity public key of the bundle the session
// was established with.
func (s *Session) PeerIdentity() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.peerIdentity...)
}

// Established reports whether both chains are keyed.
func (s *Session) Established() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

// Links returns the current send and receive chain links.
func (s *Session) Links() (send, recv uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send.Link(), s.recv.Link()
}

// ExportState serialises the session as the ordered triple
// [dh state, send chain state, receive chain state], followed by the peer
// identity once the session is established. A session can be exported as
// soon as it has published a bundle, so it can wait for the peer's bundle
// across restarts. The output is secret.
func (s *Session) ExportState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := make([][]byte, 3, 4)
	var err error
	if st[0], err = s.dh.ExportState(); err != nil {
		return nil, err
	}
	if st[1], err = s.send.ExportState(); err != nil {
		return nil, err
	}
	if st[2], err = s.recv.ExportState(); err != nil {
		return nil, err
	}
	if len(s.peerIdentity) != 0 {
		st = append(st, s.peerIdentity)
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, errors.Wrap(err, "marshal session state")
	}
	return b, nil
}

// ImportState replaces the session with one produced by ExportState. A
// session that already has an identity only accepts state for that same
// identity. On error the session is unchanged.
func (s *Session) ImportState(data []byte) error {
	var st [][]byte
	if err := json.Unmarshal(data, &st); err != nil {
		s.cfg.Logger.Errorf("Unable to decode session state: %v", err)
		return errors.Wrapf(ratchet.ErrStateImport, "decode session state: %v", err)
	}
	if len(st) != 3 && len(st) != 4 {
		s.cfg.Logger.Errorf("Session state has %d parts", len(st))
		return errors.Wrapf(ratchet.ErrStateImport, "session state has %d parts", len(st))
	}
	var peerIdentity []byte
	if len(st) == 4 {
		peerIdentity = st[3]
	}
	dh, err := ratchet.RestoreDHSession(s.cfg, st[0])
	if err != nil {
		return errors.WithMessage(err, "dh state")
	}
	send, err := ratchet.RestoreChain(s.cfg, st[1])
	if err != nil {
		return errors.WithMessage(err, "send chain")
	}
	recv, err := ratchet.RestoreChain(s.cfg, st[2])
	if err != nil {
		return errors.WithMessage(err, "receive chain")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.dh.IdentityPublicKey(); len(cur) != 0 && !bytes.Equal(cur, dh.IdentityPublicKey()) {
		s.cfg.Logger.Errorf("Refusing to import session state for a different identity")
		return errors.Wrap(ratchet.ErrStateImport, "identity mismatch")
	}
	established := send.Keyed() && recv.Keyed()
	if established && len(peerIdentity) == 0 {
		s.cfg.Logger.Errorf("Refusing established session state without a peer identity")
		return errors.Wrap(ratchet.ErrStateImport, "missing peer identity")
	}
	s.dh, s.send, s.recv = dh, send, recv
	s.peerIdentity = peerIdentity
	s.established = established
	return nil
}
