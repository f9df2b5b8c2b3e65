package shard

import (
	"fmt"

	"github.com/arloliu/millipede/endian"
	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/feature"
	"github.com/arloliu/millipede/internal/hash"
)

// PackFeaturesAndHash encodes a features-file record: every feature of fv as
// a little-endian uint64, followed by the xxHash64 of input.
//
// An empty fv is stored as the single feature feature.NoFeatureSentinel so
// that "executed, produced nothing" survives a round trip and is not
// mistaken for "not executed yet".
func PackFeaturesAndHash(input []byte, fv feature.Vec) []byte {
	le := endian.GetLittleEndianEngine()
	if len(fv) == 0 {
		fv = feature.Vec{feature.NoFeatureSentinel}
	}

	buf := make([]byte, 0, 8*(len(fv)+1))
	for _, f := range fv {
		buf = le.AppendUint64(buf, f)
	}

	return le.AppendUint64(buf, hash.Sum64(input))
}

// UnpackFeaturesAndHash decodes a record produced by PackFeaturesAndHash.
// The returned vector is never empty.
func UnpackFeaturesAndHash(record []byte) (feature.Vec, uint64, error) {
	if len(record) < 16 || len(record)%8 != 0 {
		return nil, 0, fmt.Errorf("%w: %d bytes", errs.ErrInvalidFeaturesRecord, len(record))
	}

	le := endian.GetLittleEndianEngine()
	n := len(record)/8 - 1
	fv := make(feature.Vec, n)
	for i := range fv {
		fv[i] = le.Uint64(record[i*8:])
	}

	return fv, le.Uint64(record[n*8:]), nil
}
