// Package errs defines the sentinel errors shared by millipede packages.
//
// Errors fall into three groups:
//   - protocol violations (shared-memory transport misuse), raised with panic
//     because they indicate a programming error;
//   - invariant violations inside the engine, also raised with panic;
//   - ordinary runtime errors (corrupt files, bad configuration), returned
//     and wrapped with fmt.Errorf("...: %w", err).
package errs

import "errors"

// Shared-memory transport protocol violations.
var (
	ErrSizeTooSmall        = errors.New("shmem: Size too small")
	ErrShmOpen             = errors.New("shmem: shm_open failed")
	ErrHadReadsAfterReset  = errors.New("shmem: Had reads after reset")
	ErrHadWritesAfterReset = errors.New("shmem: Had writes after reset")
	ErrInvalidBlobTag      = errors.New("shmem: blob tag must be non-zero")
	ErrSegmentClosed       = errors.New("shmem: segment is closed")
)

// Blob file and shard record errors.
var (
	ErrChecksumMismatch       = errors.New("blobfile: record checksum mismatch")
	ErrUnknownCompression     = errors.New("blobfile: unknown record compression")
	ErrInvalidFeaturesRecord  = errors.New("shard: invalid features record")
	ErrCorruptShard           = errors.New("shard: corrupt shard file")
	ErrWriterClosed           = errors.New("blobfile: writer is closed")
	ErrInvalidExecutionOutput = errors.New("execution: invalid output sequence")
)

// Engine invariant violations.
var (
	ErrCorpusShrankDuringMerge = errors.New("engine: corpus shrank during merge")
	ErrBatchResultMismatch     = errors.New("engine: batch result count does not match inputs")
	ErrEmptyInput              = errors.New("corpus: input must not be empty")
)

// Configuration errors.
var (
	ErrInvalidConfig = errors.New("config: invalid configuration")
)
