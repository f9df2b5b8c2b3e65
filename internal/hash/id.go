// Package hash provides the content hashes used to name and match inputs.
package hash

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Sum64 computes the xxHash64 of data.
func Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Hex returns the xxHash64 of data as a fixed-width, 16 character lowercase hex string.
//
// It is used as a stable file name for inputs (crash reproducers, hashed
// corpus directories), so equal inputs always map to the same name.
func Hex(data []byte) string {
	return FormatHex(xxhash.Sum64(data))
}

// FormatHex formats a hash value the same way Hex does.
func FormatHex(h uint64) string {
	s := strconv.FormatUint(h, 16)
	if len(s) < 16 {
		s = "0000000000000000"[:16-len(s)] + s
	}

	return s
}

// ID computes the xxHash64 of the given string.
func ID(data string) uint64 {
	return xxhash.Sum64String(data)
}
