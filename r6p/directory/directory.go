package directory

import (
	"net/netip"

	"github.com/pkg/errors"

	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/session"
)

var (
	ErrNotFound       = errors.New("peer not found")
	ErrBundleMismatch = errors.New("bundle identity does not match peer id")
)

// Entry is what a peer publishes: where to reach it and the bundle to
// derive a shared secret with it.
type Entry struct {
	PeerID identity.PeerID
	Addr   netip.AddrPort
	Bundle session.KeyBundle
}

// Check validates the bundle and that it belongs to PeerID. It does not
// verify the bundle signature; CreateSecretUsingBundle does that.
func (e Entry) Check() error {
	if err := e.Bundle.Validate(); err != nil {
		return err
	}
	if e.Bundle.PeerID() != e.PeerID {
		return ErrBundleMismatch
	}
	return nil
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	e.Bundle = session.KeyBundle{
		IdentityPublicKey: append([]byte(nil), e.Bundle.IdentityPublicKey...),
		SignedKey: session.SignedPublicKey{
			PublicKey: append([]byte(nil), e.Bundle.SignedKey.PublicKey...),
			Signature: append([]byte(nil), e.Bundle.SignedKey.Signature...),
		},
	}
	return e
}

// Resolver publishes and finds peer entries.
// Implementations can be backed by DHT, mDNS/DNS-SD, bootstrap lists, etc.
type Resolver interface {
	Announce(e Entry) error
	Lookup(peerID identity.PeerID) (Entry, error)
	Withdraw(peerID identity.PeerID) error
	List() ([]Entry, error)
}
