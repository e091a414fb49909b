// Package ratchet implements the two layers of an r6p session.
//
// DHSession owns the long-term identity key pair and the current
// Diffie-Hellman ratchet key pair. It signs its ratchet public key with the
// identity key, derives a shared secret from a verified peer key, and can
// step its private key forward through a one-way KDF.
//
// Chain is a symmetric KDF chain dedicated to one direction. The first
// Encrypt or Decrypt call locks it as a sender or receiver for the rest of
// its life. Receivers tolerate out-of-order delivery by caching the keys of
// skipped links, and keep the key of a link whose decryption failed so a
// forged message cannot destroy it.
//
// Every operation either commits fully or leaves state untouched. The one
// deliberate exception is receive catch-up: keys derived for skipped links
// stay cached even if the final decryption fails.
//
// Concurrency: Chain and DHSession guard their own state, but a caller
// composing them must serialise whole operations per session.
package ratchet
