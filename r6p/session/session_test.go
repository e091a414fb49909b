package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/ratchet"
)

// pair returns two sessions that exchanged bundles.
func pair(t *testing.T, cfg ratchet.Config) (*Session, *Session) {
	t.Helper()
	alice, bob := New(cfg), New(cfg)
	ab, err := alice.GenerateBundle(nil)
	require.NoError(t, err)
	bb, err := bob.GenerateBundle(nil)
	require.NoError(t, err)
	require.NoError(t, alice.CreateSecretUsingBundle(bb))
	require.NoError(t, bob.CreateSecretUsingBundle(ab))
	return alice, bob
}

func TestSessionHello(t *testing.T) {
	alice, bob := pair(t, ratchet.DefaultConfig())

	msg, err := alice.Encrypt([]byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, msg.Signature)
	require.NoError(t, bob.VerifyMessage(msg, nil))

	pt, err := bob.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, "hello", string(pt))

	reply, err := bob.Encrypt([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, alice.VerifyMessage(reply, bob.Bundle().IdentityPublicKey))
	pt, err = alice.Decrypt(reply)
	require.NoError(t, err)
	require.Equal(t, "hi", string(pt))
}

func TestSessionPostQuantumSuite(t *testing.T) {
	suite, err := crypto.NewSuite(crypto.SchemeMLDSA65, crypto.CipherChaCha20Poly1305)
	require.NoError(t, err)
	cfg := ratchet.DefaultConfig()
	cfg.Provider = suite
	alice, bob := pair(t, cfg)

	msg, err := alice.Encrypt([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, bob.VerifyMessage(msg, nil))
	pt, err := bob.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, "hello", string(pt))
}

func TestSessionRejectsForgedBundle(t *testing.T) {
	cfg := ratchet.DefaultConfig()
	alice, bob, mallory := New(cfg), New(cfg), New(cfg)
	_, err := alice.GenerateBundle(nil)
	require.NoError(t, err)
	bb, err := bob.GenerateBundle(nil)
	require.NoError(t, err)
	mb, err := mallory.GenerateBundle(nil)
	require.NoError(t, err)

	before, err := alice.dh.ExportState()
	require.NoError(t, err)
	bundleBefore := alice.Bundle()

	forged := bb
	forged.SignedKey = mb.SignedKey
	err = alice.CreateSecretUsingBundle(forged)
	require.True(t, errors.Is(err, ratchet.ErrAuthentication), "got %v", err)

	after, err := alice.dh.ExportState()
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, bundleBefore, alice.Bundle())
	require.False(t, alice.Established())
	require.Zero(t, alice.send.Link())

	_, err = alice.Encrypt([]byte("x"))
	require.True(t, errors.Is(err, ratchet.ErrValidation))

	err = alice.CreateSecretUsingBundle(KeyBundle{IdentityPublicKey: bb.IdentityPublicKey})
	require.True(t, errors.Is(err, ratchet.ErrValidation))
}

func TestSessionVerifyMessage(t *testing.T) {
	alice, bob := pair(t, ratchet.DefaultConfig())
	msg, err := alice.Encrypt([]byte("signed"))
	require.NoError(t, err)

	tampered := msg
	tampered.Ciphertext = append([]byte(nil), msg.Ciphertext...)
	tampered.Ciphertext[0] ^= 1
	require.True(t, errors.Is(bob.VerifyMessage(tampered, nil), ratchet.ErrAuthentication))

	unsigned := msg
	unsigned.Signature = nil
	require.True(t, errors.Is(bob.VerifyMessage(unsigned, nil), ratchet.ErrAuthentication))

	// signed by alice, not bob
	require.True(t, errors.Is(alice.VerifyMessage(msg, bob.Bundle().IdentityPublicKey), ratchet.ErrAuthentication))

	// the corrupt copy did not cost the genuine message its key
	_, err = bob.Decrypt(tampered)
	require.True(t, errors.Is(err, ratchet.ErrPrimitive))
	pt, err := bob.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, "signed", string(pt))
}

func TestSessionForwardSecrecy(t *testing.T) {
	alice, bob := pair(t, ratchet.DefaultConfig())

	m1, err := alice.Encrypt([]byte("one"))
	require.NoError(t, err)
	m2, err := alice.Encrypt([]byte("two"))
	require.NoError(t, err)
	_, err = bob.Decrypt(m2)
	require.NoError(t, err)
	require.Equal(t, 1, bob.recv.SkippedLinks())

	require.NoError(t, alice.RatchetDiffieHellman())
	require.NoError(t, bob.RatchetDiffieHellman())
	require.Zero(t, bob.recv.SkippedLinks())
	s, r := bob.Links()
	require.Zero(t, s)
	require.Zero(t, r)

	// link 1 now names a key of the new chain, which cannot open m1
	_, err = bob.Decrypt(m1)
	require.True(t, errors.Is(err, ratchet.ErrPrimitive), "got %v", err)

	// that failed attempt cached the new link 1 key for the real message
	m3, err := alice.Encrypt([]byte("three"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), m3.Link)
	pt, err := bob.Decrypt(m3)
	require.NoError(t, err)
	require.Equal(t, "three", string(pt))
}

func TestSessionRatchetOutOfStep(t *testing.T) {
	alice, bob := pair(t, ratchet.DefaultConfig())
	require.NoError(t, alice.RatchetDiffieHellman())

	msg, err := alice.Encrypt([]byte("lost"))
	require.NoError(t, err)
	_, err = bob.Decrypt(msg)
	require.True(t, errors.Is(err, ratchet.ErrPrimitive), "got %v", err)
}

func TestSessionStateRoundTrip(t *testing.T) {
	cfg := ratchet.DefaultConfig()
	alice, bob := pair(t, cfg)

	for i := 0; i < 3; i++ {
		msg, err := alice.Encrypt([]byte{byte(i)})
		require.NoError(t, err)
		_, err = bob.Decrypt(msg)
		require.NoError(t, err)
	}
	state, err := alice.ExportState()
	require.NoError(t, err)

	restored := New(cfg)
	require.NoError(t, restored.ImportState(state))
	require.Equal(t, alice.Bundle(), restored.Bundle())
	s, _ := restored.Links()
	require.Equal(t, uint64(3), s)

	msg, err := restored.Encrypt([]byte("after restore"))
	require.NoError(t, err)
	require.NoError(t, bob.VerifyMessage(msg, nil))
	pt, err := bob.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, "after restore", string(pt))

	// bob's identity is not alice's
	bobState, err := bob.ExportState()
	require.NoError(t, err)
	require.True(t, errors.Is(restored.ImportState(bobState), ratchet.ErrStateImport))

	require.True(t, errors.Is(New(cfg).ImportState([]byte(`[1,2]`)), ratchet.ErrStateImport))
	require.True(t, errors.Is(New(cfg).ImportState([]byte(`["","",""]`)), ratchet.ErrStateImport))

	_, err = New(cfg).ExportState()
	require.True(t, errors.Is(err, ratchet.ErrValidation))
}

func TestBundleCodec(t *testing.T) {
	s := New(ratchet.DefaultConfig())
	b, err := s.GenerateBundle(nil)
	require.NoError(t, err)

	enc, err := EncodeBundle(b)
	require.NoError(t, err)
	require.Contains(t, string(enc), `"identityPublicKey"`)
	require.Contains(t, string(enc), `"signedKey"`)

	dec, err := DecodeBundle(enc)
	require.NoError(t, err)
	require.Equal(t, b, dec)
	require.Equal(t, b.PeerID(), dec.PeerID())

	_, err = DecodeBundle([]byte(`{"identityPublicKey":"AQ=="}`))
	require.True(t, errors.Is(err, ratchet.ErrValidation))
	_, err = DecodeBundle([]byte(`nope`))
	require.True(t, errors.Is(err, ratchet.ErrValidation))
}

func TestSessionPendingStateRoundTrip(t *testing.T) {
	cfg := ratchet.DefaultConfig()
	alice, bob := New(cfg), New(cfg)
	ab, err := alice.GenerateBundle(nil)
	require.NoError(t, err)
	bb, err := bob.GenerateBundle(nil)
	require.NoError(t, err)

	// alice goes away between publishing her bundle and receiving bob's
	pending, err := alice.ExportState()
	require.NoError(t, err)
	resumed := New(cfg)
	require.NoError(t, resumed.ImportState(pending))
	require.False(t, resumed.Established())
	require.Equal(t, ab, resumed.Bundle())

	require.NoError(t, resumed.CreateSecretUsingBundle(bb))
	require.NoError(t, bob.CreateSecretUsingBundle(ab))

	msg, err := resumed.Encrypt([]byte("resumed"))
	require.NoError(t, err)
	pt, err := bob.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, "resumed", string(pt))
}

func TestSessionImportedVerifiesPeer(t *testing.T) {
	cfg := ratchet.DefaultConfig()
	alice, bob := pair(t, cfg)

	state, err := bob.ExportState()
	require.NoError(t, err)
	restored := New(cfg)
	require.NoError(t, restored.ImportState(state))
	require.Equal(t, alice.Bundle().IdentityPublicKey, restored.PeerIdentity())

	msg, err := alice.Encrypt([]byte("to the restored side"))
	require.NoError(t, err)
	require.NoError(t, restored.VerifyMessage(msg, nil))
	pt, err := restored.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, "to the restored side", string(pt))

	// an established triple with the peer identity stripped is refused
	var parts [][]byte
	require.NoError(t, json.Unmarshal(state, &parts))
	require.Len(t, parts, 4)
	stripped, err := json.Marshal(parts[:3])
	require.NoError(t, err)
	require.True(t, errors.Is(New(cfg).ImportState(stripped), ratchet.ErrStateImport))
}

func TestSessionConcurrentImport(t *testing.T) {
	cfg := ratchet.DefaultConfig()
	alice, bob := pair(t, cfg)

	msg, err := bob.Encrypt([]byte("concurrent"))
	require.NoError(t, err)
	state, err := alice.ExportState()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := alice.ImportState(state); err != nil {
				errCh <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			alice.Links()
			if err := alice.VerifyMessage(msg, nil); err != nil {
				errCh <- err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			alice.Bundle()
			if _, err := alice.ExportState(); err != nil {
				errCh <- err
				return
			}
		}
	}()
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent use: %v", err)
	}
}
