package identity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// PeerID is the stable identifier for a peer.
// It is defined as: PeerID = SHA-256(identity public key).
type PeerID [32]byte

func PeerIDFromPublicKey(publicKey []byte) PeerID {
	sum := sha256.Sum256(publicKey)
	return PeerID(sum)
}

func ParsePeerIDHex(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 32 {
		return PeerID{}, errors.New("invalid PeerID length")
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 10 bytes in hex, for log lines.
func (id PeerID) Short() string {
	return hex.EncodeToString(id[:10])
}
