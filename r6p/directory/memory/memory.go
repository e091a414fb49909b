package memory

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/TheusHen/r6p/r6p/directory"
	"github.com/TheusHen/r6p/r6p/identity"
)

// Store is an in-memory directory.
// It is useful for tests, examples and embedding in applications.
type Store struct {
	peers *xsync.MapOf[identity.PeerID, directory.Entry]
}

func New() *Store {
	return &Store{peers: xsync.NewMapOf[identity.PeerID, directory.Entry]()}
}

func (s *Store) Announce(e directory.Entry) error {
	if err := e.Check(); err != nil {
		return err
	}
	s.peers.Store(e.PeerID, e.Clone())
	return nil
}

func (s *Store) Lookup(peerID identity.PeerID) (directory.Entry, error) {
	e, ok := s.peers.Load(peerID)
	if !ok {
		return directory.Entry{}, directory.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) Withdraw(peerID identity.PeerID) error {
	if _, ok := s.peers.LoadAndDelete(peerID); !ok {
		return directory.ErrNotFound
	}
	return nil
}

func (s *Store) List() ([]directory.Entry, error) {
	out := make([]directory.Entry, 0, s.peers.Size())
	s.peers.Range(func(_ identity.PeerID, e directory.Entry) bool {
		out = append(out, e.Clone())
		return true
	})
	return out, nil
}
