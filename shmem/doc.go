// Package shmem implements a named shared-memory blob sequence: a fixed
// capacity arena holding tagged, length-prefixed records, exchanged between
// exactly two processes.
//
// # Layout
//
// A segment starts with a 16-byte control region followed by the arena:
//
//	[end of written data: 8][high-water mark: 8][arena: size bytes]
//
// Each blob in the arena is
//
//	[payload size: 8][tag: 8][payload: size bytes]
//
// All integers use the host's native byte order since both sides always run
// on the same host. Blobs are densely packed without padding.
//
// # Protocol
//
// Each side has its own cursor and moves between a write phase and a read
// phase only through Reset. Writing after a read, or reading after a write,
// without an intervening Reset panics with errs.ErrHadReadsAfterReset or
// errs.ErrHadWritesAfterReset. A typical exchange:
//
//	parent: Write, Write          child: Read, Read (invalid blob ends)
//	child:  Reset, Write          parent: Reset, Read
//
// Reset only rewinds cursors; bytes stay in the arena until overwritten.
// A Write that does not fit returns false and changes nothing.
//
// A Sequence does no locking. Correctness depends on the two sides taking
// turns.
package shmem
