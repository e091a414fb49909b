package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/ratchet"
	"github.com/TheusHen/r6p/r6p/transport/quic"
)

func handshakePair(t *testing.T, ctx context.Context, clientOpts HandshakeOptions) (*Channel, *Channel, error) {
	t.Helper()

	serverKP, err := identity.GenerateKeyPair(crypto.SchemeEd25519)
	if err != nil {
		t.Fatalf("server GenerateKeyPair: %v", err)
	}

	ln, err := quic.Listen("127.0.0.1:0", quic.Options{})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	addr := ln.AddrString()
	if addr == "" {
		t.Fatalf("expected listener addr")
	}

	type result struct {
		ch  *Channel
		err error
	}
	srvCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			srvCh <- result{err: err}
			return
		}
		ch, err := HandshakeServer(ctx, conn, New(ratchet.DefaultConfig()), HandshakeOptions{Identity: &serverKP})
		srvCh <- result{ch, err}
	}()

	conn, err := quic.Dial(ctx, addr, quic.Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client, cerr := HandshakeClient(ctx, conn, New(ratchet.DefaultConfig()), clientOpts)
	if cerr != nil {
		return nil, nil, cerr
	}

	res := <-srvCh
	if res.err != nil {
		t.Fatalf("server handshake: %v", res.err)
	}
	if client.RemotePeerID() != serverKP.PeerID() {
		t.Fatalf("client expected server peerid")
	}
	return client, res.ch, nil
}

func TestHandshakeClientServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientKP, err := identity.GenerateKeyPair(crypto.SchemeEd25519)
	if err != nil {
		t.Fatalf("client GenerateKeyPair: %v", err)
	}
	client, server, err := handshakePair(t, ctx, HandshakeOptions{Identity: &clientKP})
	if err != nil {
		t.Fatalf("HandshakeClient: %v", err)
	}
	if server.RemotePeerID() != clientKP.PeerID() {
		t.Fatalf("server expected client peerid")
	}

	if err := client.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	// in-band ratchet: the client announces, the server answers with a
	// message once it has ratcheted, the client's Receive picks up the ack
	if err := client.Ratchet(); err != nil {
		t.Fatalf("Ratchet: %v", err)
	}
	srvErr := make(chan error, 1)
	go func() {
		pt, err := server.Receive(ctx)
		if err == nil && string(pt) != "after ratchet" {
			err = errors.New("server got " + string(pt))
		}
		if err == nil {
			err = server.Send(ctx, []byte("reply"))
		}
		srvErr <- err
	}()
	sendErr := make(chan error, 1)
	go func() { sendErr <- client.Send(ctx, []byte("after ratchet")) }()

	got, err = client.Receive(ctx)
	if err != nil {
		t.Fatalf("client Receive: %v", err)
	}
	if string(got) != "reply" {
		t.Fatalf("got %q", got)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("Send after ratchet: %v", err)
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("server: %v", err)
	}
	if client.Epoch() != 1 || server.Epoch() != 1 {
		t.Fatalf("epochs %d/%d, want 1/1", client.Epoch(), server.Epoch())
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := server.Receive(ctx); err == nil {
		t.Fatalf("expected end of channel")
	}
}

func TestHandshakeUnexpectedPeer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	want := identity.PeerID{0xaa}
	_, _, err := handshakePair(t, ctx, HandshakeOptions{ExpectedPeer: &want})
	if !errors.Is(err, ErrUnexpectedPeer) {
		t.Fatalf("expected ErrUnexpectedPeer, got %v", err)
	}
}
