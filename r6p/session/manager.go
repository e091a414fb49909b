package session

import (
	"bytes"
	"encoding/json"

	"github.com/decred/slog"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/ratchet"
)

// StateStore persists exported session records by peer.
type StateStore interface {
	SaveState(peer identity.PeerID, record []byte) error
	LoadState(peer identity.PeerID) ([]byte, error)
	DeleteState(peer identity.PeerID) error
	PeerIDs() ([]identity.PeerID, error)
}

// ErrUnknownOffer reports a pairing for a ratchet key no offered session
// holds, either never offered here or already paired.
var ErrUnknownOffer = errors.New("no offered session for that ratchet key")

// Manager tracks the established sessions of one local identity, one per
// remote peer, and the offered sessions whose bundles are published but
// not yet paired. Sessions for different peers are independent and may be
// used concurrently.
type Manager struct {
	cfg      ratchet.Config
	local    identity.KeyPair
	sessions *xsync.MapOf[identity.PeerID, *Session]
	// offers is keyed by the signed ratchet public key of each bundle.
	offers *xsync.MapOf[string, *Session]
}

func NewManager(cfg ratchet.Config, local identity.KeyPair) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Disabled
	}
	return &Manager{
		cfg:      cfg,
		local:    local.Clone(),
		sessions: xsync.NewMapOf[identity.PeerID, *Session](),
		offers:   xsync.NewMapOf[string, *Session](),
	}
}

// Identity returns a copy of the local identity, suitable for
// HandshakeOptions.Identity.
func (m *Manager) Identity() *identity.KeyPair {
	kp := m.local.Clone()
	return &kp
}

func (m *Manager) LocalPeerID() identity.PeerID { return m.local.PeerID() }

// NewSession creates an unregistered session under the local identity and
// returns the bundle to hand to the peer.
func (m *Manager) NewSession() (*Session, KeyBundle, error) {
	s := New(m.cfg)
	b, err := s.GenerateBundle(m.Identity())
	if err != nil {
		return nil, KeyBundle{}, err
	}
	return s, b, nil
}

// Offer creates a session and holds it until a peer pairs with the
// returned bundle through Complete. Offers live in memory only.
func (m *Manager) Offer() (KeyBundle, error) {
	s, b, err := m.NewSession()
	if err != nil {
		return KeyBundle{}, err
	}
	m.offers.Store(string(b.SignedKey.PublicKey), s)
	return b, nil
}

// Complete finishes the offered session that published ratchetKey using
// the bundle of the peer that paired with it, and registers the result.
// If the peer bundle is rejected the offer stays available.
func (m *Manager) Complete(ratchetKey []byte, peer KeyBundle) (*Session, error) {
	key := string(ratchetKey)
	s, ok := m.offers.LoadAndDelete(key)
	if !ok {
		m.cfg.Logger.Warnf("Pairing attempt for a ratchet key with no offered session")
		return nil, ErrUnknownOffer
	}
	if err := s.CreateSecretUsingBundle(peer); err != nil {
		m.offers.Store(key, s)
		return nil, err
	}
	if _, err := m.Add(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Offers returns how many offered sessions are still waiting for a peer.
func (m *Manager) Offers() int { return m.offers.Size() }

// Add registers an established session under its peer, replacing any
// previous session with that peer.
func (m *Manager) Add(s *Session) (identity.PeerID, error) {
	peer := s.PeerIdentity()
	if len(peer) == 0 {
		return identity.PeerID{}, errors.Wrap(ratchet.ErrValidation, "session has no peer")
	}
	id := identity.PeerIDFromPublicKey(peer)
	m.sessions.Store(id, s)
	return id, nil
}

func (m *Manager) Get(peer identity.PeerID) (*Session, bool) {
	return m.sessions.Load(peer)
}

func (m *Manager) Remove(peer identity.PeerID) {
	m.sessions.Delete(peer)
}

func (m *Manager) Len() int { return m.sessions.Size() }

// Range calls f for each session until f returns false.
func (m *Manager) Range(f func(identity.PeerID, *Session) bool) {
	m.sessions.Range(f)
}

type managedRecord struct {
	PeerIdentity []byte `json:"peerIdentity"`
	State        []byte `json:"state"`
}

// SaveAll exports every registered session to st.
func (m *Manager) SaveAll(st StateStore) error {
	var firstErr error
	m.sessions.Range(func(id identity.PeerID, s *Session) bool {
		state, err := s.ExportState()
		if err == nil {
			var rec []byte
			rec, err = json.Marshal(managedRecord{PeerIdentity: s.PeerIdentity(), State: state})
			if err == nil {
				err = st.SaveState(id, rec)
			}
		}
		if err != nil {
			m.cfg.Logger.Errorf("Unable to save session with %s: %v", id.Short(), err)
			firstErr = errors.WithMessagef(err, "save %s", id.Short())
			return false
		}
		return true
	})
	return firstErr
}

// Restore loads every record in st, registering a session for each. A
// record that does not import is skipped and reported in the error; the
// others are still restored.
func (m *Manager) Restore(st StateStore) (int, error) {
	ids, err := st.PeerIDs()
	if err != nil {
		return 0, err
	}
	var n int
	var firstErr error
	for _, id := range ids {
		if err := m.restoreOne(st, id); err != nil {
			m.cfg.Logger.Errorf("Unable to restore session with %s: %v", id.Short(), err)
			if firstErr == nil {
				firstErr = errors.WithMessagef(err, "restore %s", id.Short())
			}
			continue
		}
		n++
	}
	return n, firstErr
}

func (m *Manager) restoreOne(st StateStore, id identity.PeerID) error {
	raw, err := st.LoadState(id)
	if err != nil {
		return err
	}
	var rec managedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return errors.Wrapf(ratchet.ErrStateImport, "decode record: %v", err)
	}
	if identity.PeerIDFromPublicKey(rec.PeerIdentity) != id {
		return errors.Wrap(ratchet.ErrStateImport, "record peer does not match key")
	}
	s := New(m.cfg)
	if err := s.ImportState(rec.State); err != nil {
		return err
	}
	if !m.local.IsZero() && !bytes.Equal(s.Bundle().IdentityPublicKey, m.local.PublicKey) {
		return errors.Wrap(ratchet.ErrStateImport, "record belongs to another local identity")
	}
	if !bytes.Equal(s.PeerIdentity(), rec.PeerIdentity) {
		return errors.Wrap(ratchet.ErrStateImport, "record peer does not match session state")
	}
	m.sessions.Store(id, s)
	return nil
}
