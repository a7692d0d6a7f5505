package archive

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/oci/unpack/core"
)

// decompressFor returns a decompressing reader for a layer blob, choosing
// gzip or zstd from the media type's compression suffix. A media type
// with no compression suffix (the generic application/vnd.oci.image.layer.v1.tar
// shape) is passed through unchanged, except that its magic bytes are
// still sniffed first, since some registries serve +gzip/+zstd content
// under a media type that doesn't declare it. Any other, unrecognized
// media type is rejected rather than guessed at.
func decompressFor(mediaType string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(mediaType, "+gzip") || strings.HasSuffix(mediaType, ".tar.gzip"):
		return gzip.NewReader(r)
	case strings.HasSuffix(mediaType, "+zstd"):
		return newZstdReadCloser(r)
	case strings.HasSuffix(mediaType, ".tar"):
		return passthroughOrSniff(r)
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedMediaType, mediaType)
	}
}

// passthroughOrSniff handles a media type that declares no compression.
// It sniffs the stream's magic bytes in case the registry actually served
// compressed content under the generic media type, and otherwise returns
// the stream unchanged as an identity decompressor.
func passthroughOrSniff(r io.Reader) (io.ReadCloser, error) {
	// Read first 4 bytes to detect format (zstd magic is 4 bytes).
	buf := make([]byte, 4)
	n, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	// Prepend the bytes we consumed back onto the stream.
	combined := io.MultiReader(bytes.NewReader(buf[:n]), r)

	if n >= 2 && buf[0] == 0x1f && buf[1] == 0x8b {
		return gzip.NewReader(combined)
	}
	if n >= 4 && buf[0] == 0x28 && buf[1] == 0xb5 && buf[2] == 0x2f && buf[3] == 0xfd {
		return newZstdReadCloser(combined)
	}

	return io.NopCloser(combined), nil
}

func newZstdReadCloser(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}
