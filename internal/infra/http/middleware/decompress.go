package middleware

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/vexscan/api/pkg/apierror"
)

// ErrDecompressedTooLarge is returned by the body reader once a compressed
// request expands past its limit.
var ErrDecompressedTooLarge = errors.New("decompressed request body too large")

// DecompressConfig configures the decompression middleware.
type DecompressConfig struct {
	// MaxDecompressedSize caps the expanded body. Default 64MB.
	MaxDecompressedSize int64
	// MaxCompressionRatio rejects bodies expanding faster than this.
	// Default 100.
	MaxCompressionRatio int64
}

// DefaultDecompressConfig returns the default configuration.
func DefaultDecompressConfig() DecompressConfig {
	return DecompressConfig{
		MaxDecompressedSize: 64 << 20,
		MaxCompressionRatio: 100,
	}
}

// Decompress transparently decodes gzip and zstd request bodies. Decoding is
// streamed, so the limits apply while handlers read.
func Decompress(cfg DecompressConfig) func(http.Handler) http.Handler {
	if cfg.MaxDecompressedSize <= 0 {
		cfg.MaxDecompressedSize = DefaultDecompressConfig().MaxDecompressedSize
	}
	if cfg.MaxCompressionRatio <= 0 {
		cfg.MaxCompressionRatio = DefaultDecompressConfig().MaxCompressionRatio
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
			if encoding == "" || encoding == "identity" || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			compressed := &countingReader{r: r.Body}
			var (
				decoded io.ReadCloser
				err     error
			)
			switch encoding {
			case "gzip":
				decoded, err = gzip.NewReader(compressed)
			case "zstd":
				var zr *zstd.Decoder
				//nolint:gosec // G115: the limit is a positive byte count
				zr, err = zstd.NewReader(compressed,
					zstd.WithDecoderMaxMemory(uint64(cfg.MaxDecompressedSize)),
					zstd.WithDecoderConcurrency(1),
				)
				if err == nil {
					decoded = zr.IOReadCloser()
				}
			default:
				apierror.New(http.StatusUnsupportedMediaType, apierror.CodeBadRequest,
					"Unsupported Content-Encoding").WriteJSONWithRequestID(w, GetRequestID(r.Context()))
				return
			}
			if err != nil {
				apierror.BadRequest("Invalid compressed request body").
					WriteJSONWithRequestID(w, GetRequestID(r.Context()))
				return
			}

			original := r.Body
			r.Body = &boundedReader{
				decoded:    decoded,
				compressed: compressed,
				closer:     original,
				max:        cfg.MaxDecompressedSize,
				ratio:      cfg.MaxCompressionRatio,
			}
			r.ContentLength = -1
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")

			next.ServeHTTP(w, r)
		})
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// boundedReader fails once the expanded body exceeds max bytes or grows more
// than ratio times its compressed size. The ratio is only enforced past the
// first MiB so small bodies with good compression pass.
type boundedReader struct {
	decoded    io.ReadCloser
	compressed *countingReader
	closer     io.Closer
	max        int64
	ratio      int64
	read       int64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	n, err := b.decoded.Read(p)
	b.read += int64(n)
	if b.read > b.max {
		return n, ErrDecompressedTooLarge
	}
	if b.read > 1<<20 && b.compressed.n > 0 && b.read/b.compressed.n > b.ratio {
		return n, ErrDecompressedTooLarge
	}
	return n, err
}

func (b *boundedReader) Close() error {
	_ = b.decoded.Close()
	return b.closer.Close()
}

// BodyLimitConfig sets the body caps. Multipart requests carry evidence files
// and get their own limit.
type BodyLimitConfig struct {
	Default   int64
	Multipart int64
}

// DefaultMaxBodySize is the cap for JSON bodies when none is configured.
const DefaultMaxBodySize = 1 << 20

// BodyLimit wraps request bodies with http.MaxBytesReader.
func BodyLimit(cfg BodyLimitConfig) func(http.Handler) http.Handler {
	if cfg.Default <= 0 {
		cfg.Default = DefaultMaxBodySize
	}
	if cfg.Multipart <= 0 {
		cfg.Multipart = cfg.Default
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
				next.ServeHTTP(w, r)
				return
			}
			limit := cfg.Default
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				limit = cfg.Multipart
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
