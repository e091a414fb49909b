package ratchet

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/TheusHen/r6p/r6p/crypto"
	"github.com/TheusHen/r6p/r6p/identity"
)

type skippedKeyState struct {
	Link uint64 `json:"link"`
	Key  []byte `json:"key"`
}

type chainState struct {
	ChainKey    []byte            `json:"chainKey"`
	CurrentLink uint64            `json:"currentLink"`
	Direction   Direction         `json:"direction"`
	SkippedKeys []skippedKeyState `json:"skippedKeys"`
}

// ExportState serialises the chain, including every cached skipped key.
// The output is secret.
func (c *Chain) ExportState() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := chainState{
		ChainKey:    c.chainKey,
		CurrentLink: c.currentLink,
		Direction:   c.direction,
		SkippedKeys: make([]skippedKeyState, 0, len(c.skipped)),
	}
	for link, key := range c.skipped {
		st.SkippedKeys = append(st.SkippedKeys, skippedKeyState{Link: link, Key: key})
	}
	sort.Slice(st.SkippedKeys, func(i, j int) bool {
		return st.SkippedKeys[i].Link < st.SkippedKeys[j].Link
	})
	b, err := json.Marshal(st)
	if err != nil {
		c.cfg.Logger.Errorf("Unable to export chain state: %v", err)
		return nil, errors.Wrap(err, "marshal chain state")
	}
	return b, nil
}

func parseChainState(data []byte) (chainState, error) {
	var st chainState
	if len(data) == 0 {
		return st, errors.Wrap(ErrStateImport, "empty chain state")
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, errors.Wrapf(ErrStateImport, "decode chain state: %v", err)
	}
	switch {
	case len(st.ChainKey) == 0:
		// a chain that was never keyed has nothing else to carry
		if st.CurrentLink != 0 || len(st.SkippedKeys) != 0 || st.Direction != DirectionUnset {
			return st, errors.Wrap(ErrStateImport, "unkeyed chain with progress")
		}
	case len(st.ChainKey) != crypto.KeySize:
		return st, errors.Wrapf(ErrStateImport, "chain key is %d bytes", len(st.ChainKey))
	}
	if st.Direction > DirectionReceiver {
		return st, errors.Wrapf(ErrStateImport, "unknown direction %d", st.Direction)
	}
	for _, sk := range st.SkippedKeys {
		if sk.Link == 0 || sk.Link > st.CurrentLink {
			return st, errors.Wrapf(ErrStateImport,
				"skipped key at link %d outside 1..%d", sk.Link, st.CurrentLink)
		}
		if len(sk.Key) != crypto.KeySize {
			return st, errors.Wrapf(ErrStateImport, "skipped key at link %d is %d bytes", sk.Link, len(sk.Key))
		}
	}
	return st, nil
}

func (c *Chain) apply(st chainState) {
	crypto.Wipe(c.chainKey)
	c.clearSkipped()
	c.chainKey = nil
	if len(st.ChainKey) != 0 {
		c.chainKey = append([]byte(nil), st.ChainKey...)
	}
	c.currentLink = st.CurrentLink
	c.direction = st.Direction
	for _, sk := range st.SkippedKeys {
		c.skipped[sk.Link] = append([]byte(nil), sk.Key...)
	}
}

// ImportState replaces the chain's state with one produced by ExportState.
// A chain already locked to a direction only accepts state for that same
// direction. On error the chain is unchanged.
func (c *Chain) ImportState(data []byte) error {
	st, err := parseChainState(data)
	if err != nil {
		c.cfg.Logger.Errorf("Unable to import chain state: %v", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.direction != DirectionUnset && st.Direction != c.direction {
		c.cfg.Logger.Errorf("Refusing to import %v state into a %v chain", st.Direction, c.direction)
		return errors.Wrapf(ErrStateImport, "direction %v does not match %v", st.Direction, c.direction)
	}
	c.apply(st)
	return nil
}

// RestoreChain builds a new chain from exported state.
func RestoreChain(cfg Config, data []byte) (*Chain, error) {
	c := NewChain(cfg)
	st, err := parseChainState(data)
	if err != nil {
		c.cfg.Logger.Errorf("Unable to restore chain: %v", err)
		return nil, err
	}
	c.apply(st)
	return c, nil
}

// dhState is encoded as the array
// [identityPublic, identityPrivate, ratchetPublic, ratchetPrivate].
type dhState [4][]byte

// ExportState serialises the identity and ratchet key pairs. The signature
// is recomputed on import. The output is secret.
func (d *DHSession) ExportState() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.identity.IsZero() || len(d.ratchet.Private) == 0 {
		d.cfg.Logger.Warnf("Refusing to export Diffie-Hellman state before base keys exist")
		return nil, errors.Wrap(ErrValidation, "no keys to export")
	}
	b, err := json.Marshal(dhState{
		d.identity.PublicKey, d.identity.PrivateKey,
		d.ratchet.Public, d.ratchet.Private,
	})
	if err != nil {
		d.cfg.Logger.Errorf("Unable to export Diffie-Hellman state: %v", err)
		return nil, errors.Wrap(err, "marshal dh state")
	}
	return b, nil
}

type parsedDH struct {
	identity  identity.KeyPair
	ratchet   crypto.KeyPair
	signature []byte
}

func (d *DHSession) parseState(data []byte) (parsedDH, error) {
	var st dhState
	if len(data) == 0 {
		return parsedDH{}, errors.Wrap(ErrStateImport, "empty dh state")
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return parsedDH{}, errors.Wrapf(ErrStateImport, "decode dh state: %v", err)
	}
	for i, f := range st {
		if len(f) == 0 {
			return parsedDH{}, errors.Wrapf(ErrStateImport, "dh state field %d empty", i)
		}
	}
	id, err := identity.NewKeyPair(d.cfg.Provider.SignatureScheme(), st[0], st[1])
	if err != nil {
		return parsedDH{}, errors.Wrapf(ErrStateImport, "identity: %v", err)
	}
	pub, err := d.cfg.Provider.PublicKey(st[3])
	if err != nil {
		return parsedDH{}, errors.Wrapf(ErrStateImport, "ratchet key: %v", err)
	}
	if !bytes.Equal(pub, st[2]) {
		return parsedDH{}, errors.Wrap(ErrStateImport, "ratchet public key does not match private key")
	}
	sig, _, err := d.cfg.Provider.Sign(pub, id.PrivateKey)
	if err != nil {
		return parsedDH{}, errors.Wrapf(ErrStateImport, "sign ratchet key: %v", err)
	}
	return parsedDH{
		identity:  id,
		ratchet:   crypto.KeyPair{Public: pub, Private: append([]byte(nil), st[3]...)},
		signature: sig,
	}, nil
}

// ImportState replaces the key pairs with ones produced by ExportState and
// re-signs the ratchet public key. A session that already has an identity
// only accepts state carrying that same identity. On error the session is
// unchanged.
func (d *DHSession) ImportState(data []byte) error {
	p, err := d.parseState(data)
	if err != nil {
		d.cfg.Logger.Errorf("Unable to import Diffie-Hellman state: %v", err)
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.identity.IsZero() && !d.identity.Equal(p.identity) {
		d.cfg.Logger.Errorf("Refusing to import state for identity %s over %s",
			p.identity.PeerID().Short(), d.identity.PeerID().Short())
		return errors.Wrap(ErrStateImport, "identity mismatch")
	}
	crypto.Wipe(d.ratchet.Private)
	d.identity = p.identity
	d.ratchet = p.ratchet
	d.signature = p.signature
	return nil
}

// RestoreDHSession builds a new session from exported state.
func RestoreDHSession(cfg Config, data []byte) (*DHSession, error) {
	d := NewDHSession(cfg)
	if err := d.ImportState(data); err != nil {
		return nil, err
	}
	return d, nil
}
