package store

import (
	"crypto/sha256"
	"encoding/json"
	"strings"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

var (
	ErrTooManyLost      = errors.New("store: too many shards lost, cannot recover")
	ErrInvalidConfig    = errors.New("store: invalid data/parity configuration")
	ErrChecksumMismatch = errors.New("store: recovered backup does not match its checksum")
	ErrInvalidName      = errors.New("store: invalid record name")
)

// Backup is a blob split into Reed-Solomon shards. A nil shard is missing.
type Backup struct {
	DataShards   int
	ParityShards int
	Size         int
	Checksum     [32]byte
	Shards       [][]byte
}

// BackupCodec splits and rejoins backups.
type BackupCodec struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
}

// NewBackupCodec creates a codec that tolerates the loss of up to
// parityShards shards.
func NewBackupCodec(dataShards, parityShards int) (*BackupCodec, error) {
	if dataShards <= 0 || parityShards <= 0 || dataShards+parityShards > 256 {
		return nil, ErrInvalidConfig
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	return &BackupCodec{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

func (c *BackupCodec) TotalShards() int { return c.dataShards + c.parityShards }

// Split encodes blob into data and parity shards.
func (c *BackupCodec) Split(blob []byte) (Backup, error) {
	if len(blob) == 0 {
		return Backup{}, errors.New("store: empty backup")
	}
	shards, err := c.enc.Split(blob)
	if err != nil {
		return Backup{}, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return Backup{}, err
	}
	return Backup{
		DataShards:   c.dataShards,
		ParityShards: c.parityShards,
		Size:         len(blob),
		Checksum:     sha256.Sum256(blob),
		Shards:       shards,
	}, nil
}

// Join rebuilds missing data shards and returns the original blob.
func (c *BackupCodec) Join(b Backup) ([]byte, error) {
	if b.DataShards != c.dataShards || b.ParityShards != c.parityShards || len(b.Shards) != c.TotalShards() {
		return nil, ErrInvalidConfig
	}
	shards := make([][]byte, len(b.Shards))
	copy(shards, b.Shards)
	if err := c.enc.ReconstructData(shards); err != nil {
		if errors.Is(err, reedsolomon.ErrTooFewShards) {
			return nil, ErrTooManyLost
		}
		return nil, err
	}

	data := make([]byte, 0, b.Size)
	for i := 0; i < c.dataShards && len(data) < b.Size; i++ {
		remaining := b.Size - len(data)
		if remaining >= len(shards[i]) {
			data = append(data, shards[i]...)
		} else {
			data = append(data, shards[i][:remaining]...)
		}
	}
	if len(data) != b.Size || sha256.Sum256(data) != b.Checksum {
		return nil, ErrChecksumMismatch
	}
	return data, nil
}

type backupMeta struct {
	DataShards   int    `json:"dataShards"`
	ParityShards int    `json:"parityShards"`
	Size         int    `json:"size"`
	Checksum     []byte `json:"checksum"`
}

func metaKey(name string) string { return backupPrefix + name + "/meta" }

func checkName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

// SaveBackup splits blob with codec and stores every shard under name.
func (s *Store) SaveBackup(name string, codec *BackupCodec, blob []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	b, err := codec.Split(blob)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(backupMeta{
		DataShards:   b.DataShards,
		ParityShards: b.ParityShards,
		Size:         b.Size,
		Checksum:     b.Checksum[:],
	})
	if err != nil {
		return err
	}
	if err := s.put(metaKey(name), meta); err != nil {
		return err
	}
	for i, shard := range b.Shards {
		if err := s.put(shardKey(name, i), shard); err != nil {
			s.log.Errorf("Unable to store shard %d of backup %q: %v", i, name, err)
			return err
		}
	}
	return nil
}

// LoadBackup reads whatever shards of name remain and rebuilds the blob.
func (s *Store) LoadBackup(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	raw, err := s.get(metaKey(name))
	if err != nil {
		return nil, err
	}
	var meta backupMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(err, "decode backup metadata")
	}
	codec, err := NewBackupCodec(meta.DataShards, meta.ParityShards)
	if err != nil {
		return nil, err
	}
	b := Backup{
		DataShards:   meta.DataShards,
		ParityShards: meta.ParityShards,
		Size:         meta.Size,
		Shards:       make([][]byte, codec.TotalShards()),
	}
	copy(b.Checksum[:], meta.Checksum)
	var missing int
	for i := range b.Shards {
		shard, err := s.get(shardKey(name, i))
		switch {
		case errors.Is(err, ErrNotFound):
			missing++
		case err != nil:
			s.log.Warnf("Treating unreadable shard %d of backup %q as lost: %v", i, name, err)
			missing++
		default:
			b.Shards[i] = shard
		}
	}
	if missing > 0 {
		s.log.Warnf("Backup %q is missing %d of %d shards", name, missing, len(b.Shards))
	}
	return codec.Join(b)
}

// DeleteShard removes one shard of a backup.
func (s *Store) DeleteShard(name string, i int) error {
	if err := checkName(name); err != nil {
		return err
	}
	return s.db.Delete([]byte(shardKey(name, i)), nil)
}
