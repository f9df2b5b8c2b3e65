package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// lz4 frames inside a record: one flag byte, the uvarint original length,
// then either the raw bytes or an LZ4 block. Fuzz inputs are often tiny or
// random, and CompressBlock reports those as incompressible.
const (
	lz4FlagRaw   = 0x0
	lz4FlagBlock = 0x1

	lz4MaxDecodedSize = 128 * 1024 * 1024
)

var errLZ4Corrupt = errors.New("lz4: corrupt record payload")

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// LZ4Compressor compresses record payloads with LZ4 block compression.
type LZ4Compressor struct{}

var _ Codec = (*LZ4Compressor)(nil)

// NewLZ4Compressor creates a new LZ4 compressor.
func NewLZ4Compressor() LZ4Compressor {
	return LZ4Compressor{}
}

// Compress compresses the input data using LZ4, falling back to a raw frame for incompressible data.
func (c LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	header := make([]byte, 1, 1+binary.MaxVarintLen64)
	header = binary.AppendUvarint(header, uint64(len(data)))

	dst := make([]byte, len(header)+lz4.CompressBlockBound(len(data)))
	copy(dst, header)

	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(data, dst[len(header):])
	if err != nil {
		return nil, fmt.Errorf("lz4 compression failed: %w", err)
	}
	if n == 0 || n >= len(data) {
		raw := append(header, data...)
		raw[0] = lz4FlagRaw

		return raw, nil
	}

	dst[0] = lz4FlagBlock

	return dst[:len(header)+n], nil
}

// Decompress decompresses a payload produced by Compress.
func (c LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	size, n := binary.Uvarint(data[1:])
	if n <= 0 || size > lz4MaxDecodedSize {
		return nil, errLZ4Corrupt
	}
	body := data[1+n:]

	switch data[0] {
	case lz4FlagRaw:
		if uint64(len(body)) != size {
			return nil, errLZ4Corrupt
		}
		out := make([]byte, len(body))
		copy(out, body)

		return out, nil
	case lz4FlagBlock:
		out := make([]byte, size)
		m, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		if uint64(m) != size {
			return nil, errLZ4Corrupt
		}

		return out, nil
	default:
		return nil, errLZ4Corrupt
	}
}
