// Package r6p provides a library implementation of a ratcheting session
// protocol for two parties.
//
// A session starts from an exchange of signed key bundles. Each side
// verifies the other's bundle against its identity key and derives a shared
// secret that seeds a send chain and a receive chain. Every message is
// encrypted under a fresh one-time key from the chain and signed with the
// sender's identity. Out-of-order delivery is handled by caching skipped
// keys, and a Diffie-Hellman ratchet step reseeds both chains so earlier
// keys cannot be derived again.
//
// Peer wires the pieces together over QUIC: bundles travel on a control
// stream and the resulting Channel carries messages and ratchet signals.
package r6p
