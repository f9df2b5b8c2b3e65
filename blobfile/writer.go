package blobfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arloliu/millipede/compress"
	"github.com/arloliu/millipede/endian"
	"github.com/arloliu/millipede/errs"
	"github.com/arloliu/millipede/format"
	"github.com/arloliu/millipede/internal/hash"
	"github.com/arloliu/millipede/internal/options"
	"github.com/arloliu/millipede/internal/pool"
)

type writerConfig struct {
	compression format.CompressionType
	overwrite   bool
}

// WriterOption configures a Writer.
type WriterOption = options.Option[*writerConfig]

// WithCompression sets the compression applied to record payloads.
func WithCompression(t format.CompressionType) WriterOption {
	return options.New(func(c *writerConfig) error {
		if !t.Valid() {
			return fmt.Errorf("%w: %d", errs.ErrUnknownCompression, t)
		}
		c.compression = t

		return nil
	})
}

// WithOverwrite replaces the file instead of appending to it. Records go to
// a temporary file that replaces path on Close, so readers never see a
// half-written replacement.
func WithOverwrite() WriterOption {
	return options.NoError(func(c *writerConfig) {
		c.overwrite = true
	})
}

// Writer appends records to a blob file. It is not safe for concurrent use.
type Writer struct {
	path    string
	file    *os.File
	cfg     writerConfig
	codec   compress.Codec
	closed  bool
	records int
}

// Create opens path for appending, creating it if needed.
func Create(path string, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{compression: format.CompressionNone}
	if err := options.Apply(&cfg, opts...); err != nil {
		return nil, err
	}

	codec, err := compress.GetCodec(cfg.compression)
	if err != nil {
		return nil, err
	}

	var file *os.File
	if cfg.overwrite {
		file, err = os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	} else {
		file, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob file %s: %w", path, err)
	}

	return &Writer{path: path, file: file, cfg: cfg, codec: codec}, nil
}

// Path returns the path records end up in.
func (w *Writer) Path() string {
	return w.path
}

// NumRecords returns the number of records written through w.
func (w *Writer) NumRecords() int {
	return w.records
}

// Write appends one record with a single write call.
func (w *Writer) Write(payload []byte) error {
	if w.closed {
		return errs.ErrWriterClosed
	}

	stored, err := w.codec.Compress(payload)
	if err != nil {
		return fmt.Errorf("failed to compress record for %s: %w", w.path, err)
	}

	buf := pool.GetRecordBuffer()
	defer pool.PutRecordBuffer(buf)

	buf.Grow(headerSize + len(stored))
	le := endian.GetLittleEndianEngine()
	tag := uint64(w.cfg.compression)<<compShift | hash.Sum64(stored)&checksumMask
	buf.B = le.AppendUint64(buf.B, uint64(len(stored)))
	buf.B = le.AppendUint64(buf.B, tag)
	buf.B = append(buf.B, stored...)

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to %s: %w", w.path, err)
	}
	w.records++

	return nil
}

// Close flushes and closes the file. With WithOverwrite it also moves the
// new content into place.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", w.path, err)
	}
	if w.cfg.overwrite {
		if err := os.Rename(w.file.Name(), w.path); err != nil {
			_ = os.Remove(w.file.Name())
			return fmt.Errorf("failed to replace %s: %w", w.path, err)
		}
	}

	return nil
}
