package feed

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/mirrorgen/internal/safety"
)

// errDecode marks payloads that arrived intact but could not be decompressed.
var errDecode = errors.New("undecodable payload")

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Decompress detects zstd, xz or gzip by magic number and returns the
// decompressed payload, capped at limit bytes. Anything else is returned
// unchanged.
func Decompress(data []byte, limit int64) ([]byte, error) {
	var (
		r     io.Reader
		codec string
	)

	switch {
	case bytes.HasPrefix(data, zstdMagic):
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		r, codec = dec, "zstd"

	case bytes.HasPrefix(data, xzMagic):
		dec, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		r, codec = dec, "xz"

	case bytes.HasPrefix(data, gzipMagic):
		dec, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer func() {
			_ = dec.Close()
		}()
		r, codec = dec, "gzip"

	default:
		return data, nil
	}

	out, err := safety.ReadAllWithLimit(r, limit)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("%s payload exceeded %d bytes after decompression: %w", codec, limit, err)
		}
		return nil, fmt.Errorf("decompressing %s: %w", codec, err)
	}
	return out, nil
}
