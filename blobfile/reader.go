package blobfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/arloliu/millipede/compress"
	"github.com/arloliu/millipede/endian"
	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/format"
	"github.com/arloliu/millipede/internal/hash"
)

// maxRecordSize guards against allocating for a corrupt size field.
const maxRecordSize = 1 << 32

// Reader streams records from a blob file.
type Reader struct {
	path string
	file *os.File
}

// Open opens path for reading. A missing file is reported with an error
// satisfying errors.Is(err, fs.ErrNotExist).
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob file: %w", err)
	}

	return &Reader{path: path, file: file}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Records yields the decompressed payload of every complete record.
//
// The sequence ends silently at a truncated trailing record. A corrupt
// record yields an error and ends the sequence. Yielded payloads are owned
// by the caller.
func (r *Reader) Records() iter.Seq2[[]byte, error] {
	return records(bufio.NewReaderSize(r.file, 1<<16), r.path)
}

// ReadAll returns the payloads of every complete record of the file at path.
func ReadAll(path string) ([][]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var payloads [][]byte
	for payload, err := range r.Records() {
		if err != nil {
			return payloads, err
		}
		payloads = append(payloads, payload)
	}

	return payloads, nil
}

func records(src io.Reader, name string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		le := endian.GetLittleEndianEngine()
		var header [headerSize]byte
		for {
			if _, err := io.ReadFull(src, header[:]); err != nil {
				if !isTruncation(err) {
					yield(nil, fmt.Errorf("failed to read %s: %w", name, err))
				}
				return
			}

			size := le.Uint64(header[:8])
			tag := le.Uint64(header[8:])
			if size > maxRecordSize {
				yield(nil, fmt.Errorf("%w: %s: record size %d", errs.ErrChecksumMismatch, name, size))
				return
			}

			stored := make([]byte, size)
			if _, err := io.ReadFull(src, stored); err != nil {
				if !isTruncation(err) {
					yield(nil, fmt.Errorf("failed to read %s: %w", name, err))
				}
				return
			}

			payload, err := decodeRecord(tag, stored)
			if err != nil {
				yield(nil, fmt.Errorf("%s: %w", name, err))
				return
			}
			if !yield(payload, nil) {
				return
			}
		}
	}
}

func isTruncation(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func decodeRecord(tag uint64, stored []byte) ([]byte, error) {
	if hash.Sum64(stored)&checksumMask != tag&checksumMask {
		return nil, errs.ErrChecksumMismatch
	}

	codec, err := compress.GetCodec(format.CompressionType(tag >> compShift))
	if err != nil {
		return nil, err
	}

	payload, err := codec.Decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress record: %w", err)
	}

	return payload, nil
}
