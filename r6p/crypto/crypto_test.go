package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestX25519ECDH(t *testing.T) {
	alice, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	bob, err := GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}

	sharedAlice, err := ECDH(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("ECDH alice: %v", err)
	}
	sharedBob, err := ECDH(bob.Private, alice.Public)
	if err != nil {
		t.Fatalf("ECDH bob: %v", err)
	}

	if !bytes.Equal(sharedAlice, sharedBob) {
		t.Fatalf("shared secrets do not match")
	}
}

func TestECDHRejectsZeroPoint(t *testing.T) {
	kp, err := GenerateX25519()
	require.NoError(t, err)

	_, err = ECDH(kp.Private, make([]byte, KeySize))
	require.ErrorIs(t, err, ErrInvalidPublicKey)

	_, err = ECDH(kp.Private, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestX25519PublicMatchesGenerated(t *testing.T) {
	kp, err := GenerateX25519()
	require.NoError(t, err)

	pub, err := X25519Public(kp.Private)
	require.NoError(t, err)
	require.Equal(t, kp.Public, pub)
}

func TestCipherRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	for _, suite := range []CipherSuite{CipherAES256GCM, CipherChaCha20Poly1305} {
		t.Run(suite.String(), func(t *testing.T) {
			plaintext := []byte("hello r6p secure channel")

			ciphertext, iv, err := suite.Seal(plaintext, key)
			require.NoError(t, err)
			require.NotEmpty(t, iv)

			decrypted, err := suite.Open(ciphertext, iv, key)
			require.NoError(t, err)
			require.Equal(t, plaintext, decrypted)

			// Tamper with ciphertext
			ciphertext[len(ciphertext)-1] ^= 0xff
			_, err = suite.Open(ciphertext, iv, key)
			require.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestCipherWrongKey(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	other := bytes.Repeat([]byte{2}, 32)

	ct, iv, err := CipherAES256GCM.Seal([]byte("payload"), key)
	require.NoError(t, err)

	_, err = CipherAES256GCM.Open(ct, iv, other)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	_, _, err = CipherAES256GCM.Seal([]byte("payload"), key[:16])
	require.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	secret := bytes.Repeat([]byte{0x42}, 32)

	k1, err := DeriveKey(secret, DefaultSalt, LabelChainKey, 32)
	require.NoError(t, err)
	k2, err := DeriveKey(secret, DefaultSalt, LabelChainKey, 32)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.NotEqual(t, secret, k1)

	mk, err := DeriveKey(secret, DefaultSalt, LabelMessageKey, 32)
	require.NoError(t, err)
	require.NotEqual(t, k1, mk, "labels must separate derived keys")

	_, err = DeriveKey(nil, DefaultSalt, LabelChainKey, 32)
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestSigners(t *testing.T) {
	for _, scheme := range []Scheme{SchemeEd25519, SchemeMLDSA65} {
		t.Run(scheme.String(), func(t *testing.T) {
			signer, err := SignerFor(scheme)
			require.NoError(t, err)

			pub, priv, err := signer.GenerateKey()
			require.NoError(t, err)

			msg := []byte("hello")
			sig, derived, err := signer.Sign(msg, priv)
			require.NoError(t, err)
			require.Equal(t, pub, derived)
			require.True(t, signer.Verify(msg, sig, pub))
			require.False(t, signer.Verify([]byte("tampered"), sig, pub))

			pub2, _, err := signer.GenerateKey()
			require.NoError(t, err)
			require.False(t, signer.Verify(msg, sig, pub2))
		})
	}
}

func TestSignRejectsMalformedKey(t *testing.T) {
	for _, scheme := range []Scheme{SchemeEd25519, SchemeMLDSA65} {
		t.Run(scheme.String(), func(t *testing.T) {
			signer, err := SignerFor(scheme)
			require.NoError(t, err)
			sig, pub, err := signer.Sign([]byte("hello"), []byte("short"))
			require.Error(t, err)
			require.Nil(t, sig)
			require.Nil(t, pub)
		})
	}
}

func TestSuiteDHCombineAgrees(t *testing.T) {
	s := DefaultSuite()
	a, err := s.GenerateKeyPair()
	require.NoError(t, err)
	b, err := s.GenerateKeyPair()
	require.NoError(t, err)

	ab, err := s.DHCombine(a.Private, b.Public, DefaultSalt)
	require.NoError(t, err)
	ba, err := s.DHCombine(b.Private, a.Public, DefaultSalt)
	require.NoError(t, err)
	require.Equal(t, ab, ba)
	require.Len(t, ab, KeySize)

	raw, err := ECDH(a.Private, b.Public)
	require.NoError(t, err)
	require.NotEqual(t, raw, ab, "combine must not expose the raw point")
}

func TestSuiteVerifyRejectsEmpty(t *testing.T) {
	s := DefaultSuite()
	pub, priv, err := s.GenerateIdentity()
	require.NoError(t, err)

	_, _, err = s.Sign(nil, priv)
	require.Error(t, err)
	require.False(t, s.Verify([]byte("x"), nil, pub))
}

func BenchmarkAESGCMSeal(b *testing.B) {
	key := make([]byte, 32)
	plaintext := make([]byte, 64*1024) // 64 KB
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = CipherAES256GCM.Seal(plaintext, key)
	}
}

func BenchmarkChaChaSeal(b *testing.B) {
	key := make([]byte, 32)
	plaintext := make([]byte, 64*1024)
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = CipherChaCha20Poly1305.Seal(plaintext, key)
	}
}
