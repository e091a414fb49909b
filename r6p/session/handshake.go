package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/protocol"
)

var (
	ErrHandshakeExpectedBundle = errors.New("handshake expected BUNDLE")
	ErrUnexpectedPeer          = errors.New("handshake peer is not the expected identity")
)

type HandshakeOptions struct {
	// Identity is adopted by a session that has none yet.
	Identity *identity.KeyPair
	// ExpectedPeer, when set, rejects any other remote identity.
	ExpectedPeer *identity.PeerID
}

// HandshakeClient opens the control stream, sends a fresh bundle from s,
// reads the server's bundle and derives the shared secret from it.
func HandshakeClient(ctx context.Context, conn q.Connection, s *Session, opts HandshakeOptions) (*Channel, error) {
	control, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	if err := sendBundle(s, control, opts); err != nil {
		return nil, err
	}
	peer, err := readBundle(ctx, control)
	if err != nil {
		return nil, err
	}
	return establish(conn, control, s, peer, opts)
}

// HandshakeServer accepts the control stream opened by the client, reads
// its bundle, answers with a fresh bundle from s and derives the shared
// secret.
func HandshakeServer(ctx context.Context, conn q.Connection, s *Session, opts HandshakeOptions) (*Channel, error) {
	control, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	peer, err := readBundle(ctx, control)
	if err != nil {
		return nil, err
	}
	if err := sendBundle(s, control, opts); err != nil {
		return nil, err
	}
	return establish(conn, control, s, peer, opts)
}

func sendBundle(s *Session, control q.Stream, opts HandshakeOptions) error {
	local, err := s.GenerateBundle(opts.Identity)
	if err != nil {
		return err
	}
	payload, err := EncodeBundle(local)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(control, protocol.Frame{Type: protocol.MessageTypeBundle, Payload: payload})
}

func readBundle(ctx context.Context, control q.Stream) (KeyBundle, error) {
	if dl, ok := ctx.Deadline(); ok {
		if err := control.SetReadDeadline(dl); err != nil {
			return KeyBundle{}, err
		}
		defer control.SetReadDeadline(time.Time{})
	}
	frame, err := protocol.ReadFrame(control)
	if err != nil {
		return KeyBundle{}, err
	}
	if frame.Type != protocol.MessageTypeBundle {
		return KeyBundle{}, errors.Wrapf(ErrHandshakeExpectedBundle, "got %v", frame.Type)
	}
	return DecodeBundle(frame.Payload)
}

func establish(conn q.Connection, control q.Stream, s *Session, peer KeyBundle, opts HandshakeOptions) (*Channel, error) {
	remote := peer.PeerID()
	if opts.ExpectedPeer != nil && *opts.ExpectedPeer != remote {
		s.cfg.Logger.Warnf("Handshake with %s answered by %s", opts.ExpectedPeer.Short(), remote.Short())
		return nil, errors.Wrapf(ErrUnexpectedPeer, "got %s", remote)
	}
	if err := s.CreateSecretUsingBundle(peer); err != nil {
		return nil, err
	}
	return newChannel(conn, control, s, peer), nil
}
