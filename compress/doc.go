// Package compress provides the codecs used to compress blob-file record payloads.
//
// Corpus and feature files can grow to millions of records. Each record is
// compressed independently, so a reader can decode any record of an
// append-only file without context, and records written by different runs
// with different settings can coexist in one file. The codec used for a
// record is stored in the record's tag (see package blobfile).
//
// # Available Codecs
//
//   - None: payload stored as-is (default)
//   - Zstd: best ratio, pure Go (klauspost/compress) or cgo (valyala/gozstd)
//   - S2: very fast, moderate ratio (klauspost/compress/s2)
//   - LZ4: fast block compression (pierrec/lz4/v4)
//   - Snappy: fast block compression (golang/snappy)
//
// # Usage
//
//	codec, err := compress.GetCodec(format.CompressionS2)
//	if err != nil {
//	    return err
//	}
//	stored, err := codec.Compress(payload)
//
// All codecs returned by GetCodec are stateless values and safe for
// concurrent use.
package compress
