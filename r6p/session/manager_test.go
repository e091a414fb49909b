package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/ratchet"
)

type mapStore struct {
	mu   sync.Mutex
	recs map[identity.PeerID][]byte
}

func newMapStore() *mapStore { return &mapStore{recs: map[identity.PeerID][]byte{}} }

func (m *mapStore) SaveState(id identity.PeerID, rec []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[id] = append([]byte(nil), rec...)
	return nil
}

func (m *mapStore) LoadState(id identity.PeerID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return rec, nil
}

func (m *mapStore) DeleteState(id identity.PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
	return nil
}

func (m *mapStore) PeerIDs() ([]identity.PeerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]identity.PeerID, 0, len(m.recs))
	for id := range m.recs {
		out = append(out, id)
	}
	return out, nil
}

func TestManagerSaveRestore(t *testing.T) {
	cfg := ratchet.DefaultConfig()
	local, err := identity.GenerateKeyPair(crypto.SchemeEd25519)
	require.NoError(t, err)
	mgr := NewManager(cfg, local)

	peers := make(map[identity.PeerID]*Session)
	for i := 0; i < 3; i++ {
		s, b, err := mgr.NewSession()
		require.NoError(t, err)
		require.Equal(t, local.PublicKey, b.IdentityPublicKey)

		remote := New(cfg)
		rb, err := remote.GenerateBundle(nil)
		require.NoError(t, err)
		require.NoError(t, s.CreateSecretUsingBundle(rb))
		require.NoError(t, remote.CreateSecretUsingBundle(b))

		id, err := mgr.Add(s)
		require.NoError(t, err)
		require.Equal(t, rb.PeerID(), id)
		peers[id] = remote
	}
	require.Equal(t, 3, mgr.Len())

	_, err = mgr.Add(New(cfg))
	require.True(t, errors.Is(err, ratchet.ErrValidation))

	st := newMapStore()
	require.NoError(t, mgr.SaveAll(st))

	restored := NewManager(cfg, local)
	n, err := restored.Restore(st)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for id, remote := range peers {
		s, ok := restored.Get(id)
		require.True(t, ok)
		msg, err := s.Encrypt([]byte("restored"))
		require.NoError(t, err)
		require.NoError(t, remote.VerifyMessage(msg, nil))
		pt, err := remote.Decrypt(msg)
		require.NoError(t, err)
		require.Equal(t, "restored", string(pt))

		reply, err := remote.Encrypt([]byte("ack"))
		require.NoError(t, err)
		require.NoError(t, s.VerifyMessage(reply, nil))
	}

	var seen int
	restored.Range(func(identity.PeerID, *Session) bool { seen++; return true })
	require.Equal(t, 3, seen)

	for id := range peers {
		restored.Remove(id)
		break
	}
	require.Equal(t, 2, restored.Len())
}

func TestManagerRestoreRejectsForeignIdentity(t *testing.T) {
	cfg := ratchet.DefaultConfig()
	a, err := identity.GenerateKeyPair(crypto.SchemeEd25519)
	require.NoError(t, err)
	b, err := identity.GenerateKeyPair(crypto.SchemeEd25519)
	require.NoError(t, err)

	mgr := NewManager(cfg, a)
	s, bundle, err := mgr.NewSession()
	require.NoError(t, err)
	remote := New(cfg)
	rb, err := remote.GenerateBundle(nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateSecretUsingBundle(rb))
	require.NoError(t, remote.CreateSecretUsingBundle(bundle))
	_, err = mgr.Add(s)
	require.NoError(t, err)

	st := newMapStore()
	require.NoError(t, mgr.SaveAll(st))
	st.recs[identity.PeerID{1}] = []byte(`garbage`)

	other := NewManager(cfg, b)
	n, err := other.Restore(st)
	require.Error(t, err)
	require.True(t, errors.Is(err, ratchet.ErrStateImport), "got %v", err)
	require.Zero(t, n)
	require.Zero(t, other.Len())
}

func TestManagerOfferComplete(t *testing.T) {
	cfg := ratchet.DefaultConfig()
	local, err := identity.GenerateKeyPair(crypto.SchemeEd25519)
	require.NoError(t, err)
	mgr := NewManager(cfg, local)

	offered, err := mgr.Offer()
	require.NoError(t, err)
	require.Equal(t, 1, mgr.Offers())
	require.Zero(t, mgr.Len())

	remote := New(cfg)
	rb, err := remote.GenerateBundle(nil)
	require.NoError(t, err)
	require.NoError(t, remote.CreateSecretUsingBundle(offered))

	_, err = mgr.Complete([]byte("unknown"), rb)
	require.True(t, errors.Is(err, ErrUnknownOffer))

	// a forged bundle is refused and the offer survives
	forged := rb
	forged.SignedKey.Signature = append([]byte(nil), rb.SignedKey.Signature...)
	forged.SignedKey.Signature[0] ^= 0xff
	_, err = mgr.Complete(offered.SignedKey.PublicKey, forged)
	require.True(t, errors.Is(err, ratchet.ErrAuthentication), "got %v", err)
	require.Equal(t, 1, mgr.Offers())

	s, err := mgr.Complete(offered.SignedKey.PublicKey, rb)
	require.NoError(t, err)
	require.Zero(t, mgr.Offers())
	got, ok := mgr.Get(rb.PeerID())
	require.True(t, ok)
	require.Same(t, s, got)

	msg, err := remote.Encrypt([]byte("offer accepted"))
	require.NoError(t, err)
	require.NoError(t, s.VerifyMessage(msg, nil))
	pt, err := s.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, "offer accepted", string(pt))

	_, err = mgr.Complete(offered.SignedKey.PublicKey, rb)
	require.True(t, errors.Is(err, ErrUnknownOffer))
}
