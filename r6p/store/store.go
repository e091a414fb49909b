package store

import (
	"encoding/hex"
	"strings"

	"github.com/decred/slog"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/TheusHen/r6p/r6p/identity"
)

var ErrNotFound = errors.New("store: not found")

const (
	statePrefix   = "state/"
	pendingPrefix = "pending/"
	backupPrefix  = "backup/"
	identityKey   = "identity"
)

type Config struct {
	// Path is the LevelDB directory. Empty keeps everything in memory.
	Path        string
	Compression CompressionLevel
	Logger      slog.Logger
}

// Store keeps session records and backups in LevelDB.
type Store struct {
	db    *leveldb.DB
	level CompressionLevel
	log   slog.Logger
}

func Open(cfg Config) (*Store, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if cfg.Path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(cfg.Path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open store %q", cfg.Path)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Disabled
	}
	return &Store{db: db, level: cfg.Compression, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) put(key string, value []byte) error {
	return s.db.Put([]byte(key), encodeValue(value, s.level), nil)
}

func (s *Store) get(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, ldberrors.ErrNotFound) {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	out, err := decodeValue(v)
	if err != nil {
		s.log.Errorf("Corrupt record %q: %v", key, err)
		return nil, err
	}
	return out, nil
}

func stateKey(peer identity.PeerID) string {
	return statePrefix + peer.String()
}

// SaveState stores the session record for peer, replacing any previous one.
func (s *Store) SaveState(peer identity.PeerID, record []byte) error {
	if err := s.put(stateKey(peer), record); err != nil {
		s.log.Errorf("Unable to save state for %s: %v", peer.Short(), err)
		return err
	}
	return nil
}

func (s *Store) LoadState(peer identity.PeerID) ([]byte, error) {
	return s.get(stateKey(peer))
}

func (s *Store) DeleteState(peer identity.PeerID) error {
	return s.db.Delete([]byte(stateKey(peer)), nil)
}

// PeerIDs lists every peer with a stored record.
func (s *Store) PeerIDs() ([]identity.PeerID, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(statePrefix)), nil)
	defer iter.Release()

	var ids []identity.PeerID
	for iter.Next() {
		k := strings.TrimPrefix(string(iter.Key()), statePrefix)
		id, err := identity.ParsePeerIDHex(k)
		if err != nil {
			s.log.Warnf("Skipping malformed state key %q", iter.Key())
			continue
		}
		ids = append(ids, id)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SavePending stores a session that published a bundle and is waiting for
// the peer's.
func (s *Store) SavePending(name string, state []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	return s.put(pendingPrefix+name, state)
}

func (s *Store) LoadPending(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	return s.get(pendingPrefix + name)
}

func (s *Store) DeletePending(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return s.db.Delete([]byte(pendingPrefix+name), nil)
}

func shardKey(name string, i int) string {
	return backupPrefix + name + "/" + hex.EncodeToString([]byte{byte(i)})
}
