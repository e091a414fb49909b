package r6p

import (
	"bytes"
	"context"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/r6p/r6p/directory"
	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/ratchet"
	"github.com/TheusHen/r6p/r6p/session"
	"github.com/TheusHen/r6p/r6p/transport/quic"
)

var (
	ErrNotListening = errors.New("peer is not listening")
	ErrNoDirectory  = errors.New("peer has no directory")
)

// closeHandshakeFailed is sent to the remote when its handshake is refused.
const closeHandshakeFailed q.ApplicationErrorCode = 0x1

// Peer is a high-level helper that combines transport + session.
// It intentionally stays small so applications can customize discovery and higher-level behavior.
type Peer struct {
	KeyPair   identity.KeyPair
	Config    ratchet.Config
	Transport quic.Options
	Directory directory.Resolver

	sessions *session.Manager
	listener *quic.Listener

	mu        sync.Mutex
	announced netip.AddrPort
}

func NewPeer(kp identity.KeyPair, cfg ratchet.Config) *Peer {
	return &Peer{
		KeyPair:  kp.Clone(),
		Config:   cfg,
		sessions: session.NewManager(cfg, kp),
	}
}

// Sessions is the registry every established channel's session is added to.
func (p *Peer) Sessions() *session.Manager { return p.sessions }

func (p *Peer) PeerID() identity.PeerID { return p.KeyPair.PeerID() }

func (p *Peer) Listen(addr string) error {
	ln, err := quic.Listen(addr, p.Transport)
	if err != nil {
		return err
	}
	p.listener = ln
	return nil
}

func (p *Peer) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

func (p *Peer) ListenAddr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.AddrString()
}

// Accept waits for one inbound connection and completes the handshake.
func (p *Peer) Accept(ctx context.Context) (*session.Channel, error) {
	if p.listener == nil {
		return nil, ErrNotListening
	}
	conn, err := p.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := session.HandshakeServer(ctx, conn, session.New(p.Config), p.options(nil))
	return p.register(conn, ch, err)
}

// Dial connects to addr and completes the handshake with whoever answers.
func (p *Peer) Dial(ctx context.Context, addr string) (*session.Channel, error) {
	return p.dial(ctx, addr, nil)
}

// DialPeer looks peerID up in the directory and dials it, refusing any
// other identity on the far end.
func (p *Peer) DialPeer(ctx context.Context, peerID identity.PeerID) (*session.Channel, error) {
	if p.Directory == nil {
		return nil, ErrNoDirectory
	}
	e, err := p.Directory.Lookup(peerID)
	if err != nil {
		return nil, err
	}
	return p.dial(ctx, e.Addr.String(), &peerID)
}

func (p *Peer) dial(ctx context.Context, addr string, expected *identity.PeerID) (*session.Channel, error) {
	conn, err := quic.Dial(ctx, addr, p.Transport)
	if err != nil {
		return nil, err
	}
	ch, err := session.HandshakeClient(ctx, conn, session.New(p.Config), p.options(expected))
	return p.register(conn, ch, err)
}

func (p *Peer) options(expected *identity.PeerID) session.HandshakeOptions {
	return session.HandshakeOptions{Identity: p.sessions.Identity(), ExpectedPeer: expected}
}

func (p *Peer) register(conn q.Connection, ch *session.Channel, err error) (*session.Channel, error) {
	if err != nil {
		_ = conn.CloseWithError(closeHandshakeFailed, "handshake failed")
		return nil, err
	}
	if _, err := p.sessions.Add(ch.Session()); err != nil {
		_ = conn.CloseWithError(closeHandshakeFailed, "handshake failed")
		return nil, err
	}
	return ch, nil
}

// Announce publishes addr and the bundle of a freshly offered session in
// the directory. A peer that reads the entry pairs out of band with
// CreateSecretUsingBundle and hands its own bundle back to Pair.
func (p *Peer) Announce(addr netip.AddrPort) error {
	if p.Directory == nil {
		return ErrNoDirectory
	}
	bundle, err := p.sessions.Offer()
	if err != nil {
		return err
	}
	if err := p.Directory.Announce(directory.Entry{PeerID: p.PeerID(), Addr: addr, Bundle: bundle}); err != nil {
		return err
	}
	p.mu.Lock()
	p.announced = addr
	p.mu.Unlock()
	return nil
}

// Pair completes the offered session whose bundle published ratchetKey
// with the bundle of the peer that used it. When that bundle is still the
// one listed in the directory a fresh offer replaces it, since each
// offered key pairs once. The session is registered even when that
// refresh fails.
func (p *Peer) Pair(ratchetKey []byte, peer session.KeyBundle) (*session.Session, error) {
	s, err := p.sessions.Complete(ratchetKey, peer)
	if err != nil {
		return nil, err
	}
	if p.Directory == nil {
		return s, nil
	}
	e, err := p.Directory.Lookup(p.PeerID())
	if err != nil || !bytes.Equal(e.Bundle.SignedKey.PublicKey, ratchetKey) {
		return s, nil
	}
	p.mu.Lock()
	addr := p.announced
	p.mu.Unlock()
	if err := p.Announce(addr); err != nil {
		return s, errors.WithMessage(err, "refresh announcement")
	}
	return s, nil
}
