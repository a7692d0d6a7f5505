package archive

import (
	_ "crypto/sha512" // registers SHA-512 so sha512 digests are Available
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"

	"github.com/oci/unpack/core"
)

// digestVerifier wraps a reader, computing a running digest as bytes pass
// through so the caller can verify the stream without buffering it.
// Mirrors the teacher's digestingWriter, generalized to a reader and to
// either SHA-256 or SHA-512 algorithms.
type digestVerifier struct {
	r        io.Reader
	digester digest.Digester
	want     digest.Digest
	size     int64
}

// newDigestVerifier returns a reader over r that verifies, once fully
// consumed, that the stream's digest equals want. want's algorithm
// (sha256 or sha512) selects the hash; any other algorithm is rejected.
func newDigestVerifier(r io.Reader, want digest.Digest) (*digestVerifier, error) {
	if err := want.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidRef, err)
	}
	switch want.Algorithm() {
	case digest.SHA256, digest.SHA512:
	default:
		return nil, fmt.Errorf("%w: unsupported digest algorithm %q", core.ErrInvalidArchive, want.Algorithm())
	}
	return &digestVerifier{r: r, digester: want.Algorithm().Digester(), want: want}, nil
}

func (d *digestVerifier) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.digester.Hash().Write(p[:n])
		d.size += int64(n)
	}
	return n, err
}

// Verify must be called after the reader has been fully consumed (read
// until io.EOF). It reports core.ErrDigestMismatch if the computed digest
// does not match the expected one.
func (d *digestVerifier) Verify() error {
	got := d.digester.Digest()
	if got != d.want {
		return fmt.Errorf("%w: expected %s, got %s", core.ErrDigestMismatch, d.want, got)
	}
	return nil
}

// Size returns the number of bytes read so far.
func (d *digestVerifier) Size() int64 {
	return d.size
}

// verifySize checks that the declared size matches the number of bytes
// actually streamed, independent of digest verification.
func verifySize(declared, actual int64) error {
	if declared >= 0 && declared != actual {
		return fmt.Errorf("%w: expected %d bytes, got %d", core.ErrSizeMismatch, declared, actual)
	}
	return nil
}
