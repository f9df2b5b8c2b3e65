package shmem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/arloliu/millipede/endian"
	"github.com/arloliu/millipede/errs"
)

const (
	// MinSize is the smallest arena a Sequence can be created with.
	MinSize = 8
	// HeaderSize is the per-blob overhead: payload size plus tag.
	HeaderSize = 16
	// ControlSize is the fixed overhead in front of the arena.
	ControlSize = 16

	endOffset       = 0
	highWaterOffset = 8
)

// Blob is one tagged record. A zero Tag marks the invalid blob returned at
// the end of a sequence.
//
// Data returned by Read aliases the shared arena and stays valid only until
// the peer overwrites it.
type Blob struct {
	Tag  uint64
	Data []byte
}

// IsValid reports whether b is a real record.
func (b Blob) IsValid() bool {
	return b.Tag != 0
}

// Sequence is one process's view of a named shared-memory blob sequence.
type Sequence struct {
	name  string
	path  string
	owner bool
	fd    int

	mem   []byte
	arena []byte
	ne    endian.EndianEngine

	cursor    int
	hadReads  bool
	hadWrites bool
	closed    bool
}

// shmPath maps a segment name such as "/millipede-1234" to its backing file.
func shmPath(name string) string {
	return filepath.Join(shmDir, strings.TrimPrefix(name, "/"))
}

// Create allocates a new named segment with an arena of size bytes.
//
// The caller owns the segment and unlinks it on Close. It panics with
// errs.ErrSizeTooSmall when size is below MinSize and with errs.ErrShmOpen
// when the segment cannot be created.
func Create(name string, size int) *Sequence {
	if size < MinSize {
		panic(fmt.Errorf("%w: %d < %d", errs.ErrSizeTooSmall, size, MinSize))
	}

	path := shmPath(name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_TRUNC|unix.O_CLOEXEC, 0o600)
	if err != nil {
		panic(fmt.Errorf("%w: %s: %w", errs.ErrShmOpen, name, err))
	}
	if err := unix.Ftruncate(fd, int64(ControlSize+size)); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		panic(fmt.Errorf("%w: ftruncate %s: %w", errs.ErrShmOpen, name, err))
	}

	s, err := mapSegment(name, path, fd, ControlSize+size)
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		panic(err)
	}
	s.owner = true

	return s
}

// Attach opens an existing segment created by another Sequence.
//
// It panics with errs.ErrShmOpen when no such segment exists.
func Attach(name string) *Sequence {
	path := shmPath(name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		panic(fmt.Errorf("%w: %s: %w", errs.ErrShmOpen, name, err))
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		panic(fmt.Errorf("%w: fstat %s: %w", errs.ErrShmOpen, name, err))
	}
	if st.Size < ControlSize+MinSize {
		_ = unix.Close(fd)
		panic(fmt.Errorf("%w: segment %s has %d bytes", errs.ErrSizeTooSmall, name, st.Size))
	}

	s, err := mapSegment(name, path, fd, int(st.Size))
	if err != nil {
		_ = unix.Close(fd)
		panic(err)
	}

	return s
}

func mapSegment(name, path string, fd int, length int) (*Sequence, error) {
	mem, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %w", errs.ErrShmOpen, name, err)
	}

	return &Sequence{
		name:  name,
		path:  path,
		fd:    fd,
		mem:   mem,
		arena: mem[ControlSize:],
		ne:    endian.GetNativeEngine(),
	}, nil
}

// Name returns the segment name.
func (s *Sequence) Name() string {
	return s.name
}

// Size returns the arena capacity in bytes.
func (s *Sequence) Size() int {
	return len(s.arena)
}

// Write appends b at the write cursor.
//
// It returns false, leaving the segment untouched, when the arena lacks
// HeaderSize+len(b.Data) free bytes. It panics when b has a zero tag or
// when a Read happened since the last Reset.
func (s *Sequence) Write(b Blob) bool {
	s.checkOpen()
	if b.Tag == 0 {
		panic(errs.ErrInvalidBlobTag)
	}
	if s.hadReads {
		panic(errs.ErrHadReadsAfterReset)
	}
	s.hadWrites = true

	need := HeaderSize + len(b.Data)
	if need > len(s.arena)-s.cursor {
		return false
	}

	s.ne.PutUint64(s.arena[s.cursor:], uint64(len(b.Data)))
	s.ne.PutUint64(s.arena[s.cursor+8:], b.Tag)
	copy(s.arena[s.cursor+HeaderSize:], b.Data)
	s.cursor += need

	s.ne.PutUint64(s.mem[endOffset:], uint64(s.cursor))
	if uint64(s.cursor) > s.ne.Uint64(s.mem[highWaterOffset:]) {
		s.ne.PutUint64(s.mem[highWaterOffset:], uint64(s.cursor))
	}

	return true
}

// Read returns the next blob, or the invalid blob once the cursor reaches
// the end of the data last written by either side.
//
// It panics when a Write happened since the last Reset.
func (s *Sequence) Read() Blob {
	s.checkOpen()
	if s.hadWrites {
		panic(errs.ErrHadWritesAfterReset)
	}
	s.hadReads = true

	end := min(int(s.ne.Uint64(s.mem[endOffset:])), len(s.arena))
	if s.cursor+HeaderSize > end {
		return Blob{}
	}

	size := s.ne.Uint64(s.arena[s.cursor:])
	tag := s.ne.Uint64(s.arena[s.cursor+8:])
	if size > uint64(end-s.cursor-HeaderSize) || tag == 0 {
		return Blob{}
	}

	start := s.cursor + HeaderSize
	s.cursor = start + int(size)

	return Blob{Tag: tag, Data: s.arena[start:s.cursor:s.cursor]}
}

// Reset rewinds the cursor and ends the current read or write phase.
// Arena contents are kept.
func (s *Sequence) Reset() {
	s.cursor = 0
	s.hadReads = false
	s.hadWrites = false
}

// Truncate resets like Reset and also marks the segment as holding no data,
// so the peer reads nothing until new blobs are written.
func (s *Sequence) Truncate() {
	s.checkOpen()
	s.Reset()
	s.ne.PutUint64(s.mem[endOffset:], 0)
}

// NumBytesUsed returns the high-water mark of bytes written to the arena
// since creation or the last ReleaseSharedMemory.
func (s *Sequence) NumBytesUsed() int {
	s.checkOpen()

	return int(s.ne.Uint64(s.mem[highWaterOffset:]))
}

// ReleaseSharedMemory returns the segment's pages to the system without
// destroying the segment, and resets the sequence to empty.
func (s *Sequence) ReleaseSharedMemory() {
	s.checkOpen()
	releaseMemory(s.fd, s.mem)
	s.Reset()
}

// Close unmaps the segment. The owner also removes the name.
func (s *Sequence) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := unix.Munmap(s.mem); err != nil {
		firstErr = fmt.Errorf("failed to unmap %s: %w", s.name, err)
	}
	s.mem, s.arena = nil, nil
	if err := unix.Close(s.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close %s: %w", s.name, err)
	}
	if s.owner {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("failed to unlink %s: %w", s.name, err)
		}
	}

	return firstErr
}

func (s *Sequence) checkOpen() {
	if s.closed {
		panic(errs.ErrSegmentClosed)
	}
}
