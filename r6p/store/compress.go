package store

import (
	"bytes"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

var (
	ErrCompressionFailed   = errors.New("store: compression failed")
	ErrDecompressionFailed = errors.New("store: decompression failed")
)

// CompressionLevel controls the speed/ratio tradeoff.
type CompressionLevel int

const (
	CompressionFast    CompressionLevel = iota // Fastest, lower ratio
	CompressionDefault                         // Balanced
	CompressionBest                            // Best ratio, slower
)

// Record encodings, stored as the first byte of every value.
const (
	encodingRaw byte = 0
	encodingLZ4 byte = 1
)

var compressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewWriter(nil)
	},
}

var decompressorPool = sync.Pool{
	New: func() interface{} {
		return lz4.NewReader(nil)
	},
}

func lz4Compress(data []byte, level CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	w := compressorPool.Get().(*lz4.Writer)
	defer compressorPool.Put(w)

	w.Reset(&buf)

	var opt lz4.Option
	switch level {
	case CompressionFast:
		opt = lz4.CompressionLevelOption(lz4.Fast)
	case CompressionBest:
		opt = lz4.CompressionLevelOption(lz4.Level9)
	default:
		opt = lz4.CompressionLevelOption(lz4.Level4)
	}
	if err := w.Apply(opt); err != nil {
		return nil, errors.Wrap(ErrCompressionFailed, err.Error())
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(ErrCompressionFailed, err.Error())
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(ErrCompressionFailed, err.Error())
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	r := decompressorPool.Get().(*lz4.Reader)
	defer decompressorPool.Put(r)

	r.Reset(bytes.NewReader(data))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, errors.Wrap(ErrDecompressionFailed, err.Error())
	}
	return buf.Bytes(), nil
}

// encodeValue prefixes data with its encoding, compressing it only when
// that saves space.
func encodeValue(data []byte, level CompressionLevel) []byte {
	if compressed, err := lz4Compress(data, level); err == nil && len(compressed) < len(data) {
		return append([]byte{encodingLZ4}, compressed...)
	}
	return append([]byte{encodingRaw}, data...)
}

func decodeValue(v []byte) ([]byte, error) {
	if len(v) == 0 {
		return nil, errors.Wrap(ErrDecompressionFailed, "empty value")
	}
	switch v[0] {
	case encodingRaw:
		return append([]byte(nil), v[1:]...), nil
	case encodingLZ4:
		return lz4Decompress(v[1:])
	default:
		return nil, errors.Wrapf(ErrDecompressionFailed, "unknown encoding %d", v[0])
	}
}
