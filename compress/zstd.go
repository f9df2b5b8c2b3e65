package compress

// ZstdCompressor compresses record payloads with Zstandard.
//
// It gives the best ratio of the built-in codecs and suits features files,
// whose packed uint64 features compress well. Builds with cgo use
// valyala/gozstd, pure Go builds use klauspost/compress/zstd; both produce
// standard zstd frames, so files are readable by either build.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new Zstd compressor with default settings.
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
