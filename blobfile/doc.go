// Package blobfile reads and writes append-only files of opaque records.
//
// # Record Format
//
//	[stored size: 8][tag: 8][stored payload: size bytes]
//
// Integers are little-endian. The top byte of the tag holds the
// format.CompressionType of the stored payload, the low 56 bits hold the
// low 56 bits of the xxHash64 of the stored payload.
//
// # Partial Reads
//
// Files are shared between a single writer and any number of readers that
// may run while the writer appends. A reader that reaches a record whose
// header or payload is cut short treats it as not written yet and ends the
// sequence without an error. A complete record whose checksum does not match
// is corruption and is reported as errs.ErrChecksumMismatch.
package blobfile

const (
	headerSize   = 16
	checksumMask = (uint64(1) << 56) - 1
	compShift    = 56
)
