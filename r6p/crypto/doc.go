// Package crypto provides the primitive provider used by the r6p ratchets.
//
// The ratchet layers never touch curve or cipher internals directly; they call
// a Provider, which bundles:
//   - X25519 key generation and Diffie-Hellman combine (golang.org/x/crypto/curve25519)
//   - HKDF-SHA256 key derivation with a fixed public salt
//   - AES-256-GCM or ChaCha20-Poly1305 symmetric encryption with a random IV
//   - Ed25519 or ML-DSA-65 signatures over arbitrary payloads
//
// Suite is the stock Provider. All keys are 256 bits unless a signature
// scheme dictates otherwise.
package crypto
