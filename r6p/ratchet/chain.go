package ratchet

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/TheusHen/r6p/r6p/crypto"
)

// Direction is the role a Chain is locked into.
type Direction uint8

const (
	DirectionUnset Direction = iota
	DirectionSender
	DirectionReceiver
)

func (d Direction) String() string {
	switch d {
	case DirectionUnset:
		return "unset"
	case DirectionSender:
		return "sender"
	case DirectionReceiver:
		return "receiver"
	default:
		return "invalid"
	}
}

// Chain is a one-way symmetric key ratchet for a single direction.
// Each step derives a message key and the next chain key from the current
// chain key; the old chain key is discarded.
type Chain struct {
	mu          sync.Mutex
	cfg         Config
	chainKey    []byte
	currentLink uint64
	direction   Direction
	skipped     map[uint64][]byte
}

// NewChain creates an unkeyed chain. Call Reset before use.
func NewChain(cfg Config) *Chain {
	return &Chain{
		cfg:     cfg.normalize(),
		skipped: make(map[uint64][]byte),
	}
}

// Reset installs a new chain key, rewinds the link counter to zero and
// drops every cached key. The direction lock survives.
func (c *Chain) Reset(chainKey []byte) error {
	if len(chainKey) == 0 {
		return errors.Wrap(ErrValidation, "empty chain key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	crypto.Wipe(c.chainKey)
	c.chainKey = append([]byte(nil), chainKey...)
	c.currentLink = 0
	c.clearSkipped()
	return nil
}

func (c *Chain) clearSkipped() {
	for link, key := range c.skipped {
		crypto.Wipe(key)
		delete(c.skipped, link)
	}
}

// step derives (nextChainKey, messageKey) from chainKey without touching state.
func (c *Chain) step(chainKey []byte) ([]byte, []byte, error) {
	p := c.cfg.Provider
	next, err := p.DeriveKey(chainKey, c.cfg.Salt, crypto.LabelChainKey, crypto.KeySize)
	if err != nil {
		return nil, nil, primitiveErr(err, "derive chain key")
	}
	mk, err := p.DeriveKey(chainKey, c.cfg.Salt, crypto.LabelMessageKey, crypto.KeySize)
	if err != nil {
		return nil, nil, primitiveErr(err, "derive message key")
	}
	return next, mk, nil
}

// advance commits one step and returns the message key for the new link.
func (c *Chain) advance() ([]byte, error) {
	if len(c.chainKey) == 0 {
		return nil, errors.Wrap(ErrValidation, "chain key not set")
	}
	next, mk, err := c.step(c.chainKey)
	if err != nil {
		return nil, err
	}
	crypto.Wipe(c.chainKey)
	c.chainKey = next
	c.currentLink++
	return mk, nil
}

// GenerateNextKey advances the chain by one link and returns that link's
// message key.
func (c *Chain) GenerateNextKey() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mk, err := c.advance()
	if err != nil {
		c.cfg.Logger.Warnf("Unable to generate next chain key: %v", err)
		return nil, err
	}
	return mk, nil
}

// Encrypt seals plaintext under the next link's key. The first call locks
// the chain as a sender; a receiver chain refuses without changing state.
func (c *Chain) Encrypt(plaintext []byte) (EncryptedMessage, error) {
	return c.EncryptSigned(plaintext, nil)
}

// EncryptSigned is Encrypt with sign run over the ciphertext before the
// link is committed. If sign fails the chain does not advance.
func (c *Chain) EncryptSigned(plaintext []byte, sign func(ciphertext []byte) ([]byte, error)) (EncryptedMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.direction == DirectionReceiver {
		c.cfg.Logger.Errorf("Attempted to encrypt with a receiving chain; " +
			"a chain is locked to whichever of Encrypt or Decrypt it saw first")
		return EncryptedMessage{}, errors.Wrap(ErrDirectionConflict, "encrypt on receiving chain")
	}
	if len(plaintext) == 0 {
		c.cfg.Logger.Warnf("Refusing to encrypt empty plaintext")
		return EncryptedMessage{}, errors.Wrap(ErrValidation, "empty plaintext")
	}
	if len(c.chainKey) == 0 {
		c.cfg.Logger.Warnf("Refusing to encrypt: chain key not set")
		return EncryptedMessage{}, errors.Wrap(ErrValidation, "chain key not set")
	}
	c.direction = DirectionSender

	next, mk, err := c.step(c.chainKey)
	if err != nil {
		c.cfg.Logger.Errorf("Unable to derive send key at link %d: %v", c.currentLink+1, err)
		return EncryptedMessage{}, err
	}
	defer crypto.Wipe(mk)

	ct, iv, err := c.cfg.Provider.Encrypt(plaintext, mk)
	if err != nil {
		c.cfg.Logger.Errorf("Unable to encrypt at link %d: %v", c.currentLink+1, err)
		return EncryptedMessage{}, primitiveErr(err, "encrypt")
	}
	var sig []byte
	if sign != nil {
		if sig, err = sign(ct); err != nil {
			c.cfg.Logger.Errorf("Unable to sign message at link %d: %v", c.currentLink+1, err)
			return EncryptedMessage{}, err
		}
	}

	crypto.Wipe(c.chainKey)
	c.chainKey = next
	c.currentLink++
	return EncryptedMessage{Ciphertext: ct, IV: iv, Link: c.currentLink, Signature: sig}, nil
}

// Decrypt opens msg. The first call locks the chain as a receiver.
//
// A message ahead of the next expected link first caches the keys of the
// links it skips. A message at or behind the current link is served from
// that cache and consumes the entry. A message at the next link derives a
// fresh key; if decryption fails the key is cached rather than dropped.
func (c *Chain) Decrypt(msg EncryptedMessage) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.direction == DirectionSender {
		c.cfg.Logger.Errorf("Attempted to decrypt with a sending chain; " +
			"a chain is locked to whichever of Encrypt or Decrypt it saw first")
		return nil, errors.Wrap(ErrDirectionConflict, "decrypt on sending chain")
	}
	if err := msg.validate(); err != nil {
		c.cfg.Logger.Warnf("Refusing to decrypt message at link %d: %v", msg.Link, err)
		return nil, err
	}
	if len(c.chainKey) == 0 {
		c.cfg.Logger.Warnf("Refusing to decrypt: chain key not set")
		return nil, errors.Wrap(ErrValidation, "chain key not set")
	}
	c.direction = DirectionReceiver

	if msg.Link <= c.currentLink {
		return c.decryptSkipped(msg)
	}

	if gap := msg.Link - c.currentLink - 1; gap > 0 {
		if gap > uint64(c.cfg.MaxSkip) {
			c.cfg.Logger.Warnf("Message link %d is %d links ahead of %d, limit is %d",
				msg.Link, gap, c.currentLink, c.cfg.MaxSkip)
			return nil, errors.Wrapf(ErrUnrecoverableLink, "link %d too far ahead", msg.Link)
		}
		for c.currentLink < msg.Link-1 {
			mk, err := c.advance()
			if err != nil {
				c.cfg.Logger.Errorf("Unable to derive skipped key at link %d: %v", c.currentLink+1, err)
				return nil, err
			}
			c.skipped[c.currentLink] = mk
		}
	}

	mk, err := c.advance()
	if err != nil {
		c.cfg.Logger.Errorf("Unable to derive receive key at link %d: %v", msg.Link, err)
		return nil, err
	}
	pt, err := c.cfg.Provider.Decrypt(msg.Ciphertext, msg.IV, mk)
	if err != nil {
		// keep the key: a forged message must not burn a valid future key
		c.skipped[c.currentLink] = mk
		c.cfg.Logger.Warnf("Unable to decrypt message at link %d, key retained: %v", msg.Link, err)
		return nil, primitiveErr(err, "decrypt")
	}
	crypto.Wipe(mk)
	return pt, nil
}

func (c *Chain) decryptSkipped(msg EncryptedMessage) ([]byte, error) {
	mk, ok := c.skipped[msg.Link]
	if !ok {
		c.cfg.Logger.Warnf("No cached key for link %d (current link %d); "+
			"message already consumed or never in range", msg.Link, c.currentLink)
		return nil, errors.Wrapf(ErrUnrecoverableLink, "link %d", msg.Link)
	}
	pt, err := c.cfg.Provider.Decrypt(msg.Ciphertext, msg.IV, mk)
	if err != nil {
		c.cfg.Logger.Warnf("Unable to decrypt message at cached link %d: %v", msg.Link, err)
		return nil, primitiveErr(err, "decrypt")
	}
	delete(c.skipped, msg.Link)
	crypto.Wipe(mk)
	return pt, nil
}

// Keyed reports whether the chain has a chain key.
func (c *Chain) Keyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chainKey) != 0
}

// Link returns the link of the most recently derived key.
func (c *Chain) Link() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLink
}

// Direction returns the chain's lock state.
func (c *Chain) Direction() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction
}

// SkippedLinks returns how many keys are cached for out-of-order delivery.
func (c *Chain) SkippedLinks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.skipped)
}

// HasSkippedKey reports whether a key for link is cached.
func (c *Chain) HasSkippedKey(link uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.skipped[link]
	return ok
}
