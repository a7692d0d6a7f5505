package unpack

import "github.com/oci/unpack/core"

// Sentinel errors returned by Client.Unpack and friends. These are the
// same sentinels the internal packages return; unpack re-exports them so
// callers outside this module don't need to import core directly.
var (
	ErrNotFound             = core.ErrNotFound
	ErrUnauthorized         = core.ErrUnauthorized
	ErrInvalidRef           = core.ErrInvalidRef
	ErrPathTraversal        = core.ErrPathTraversal
	ErrExtractLimits        = core.ErrExtractLimits
	ErrInvalidArchive       = core.ErrInvalidArchive
	ErrDigestMismatch       = core.ErrDigestMismatch
	ErrNoMatchingPlatform   = core.ErrNoMatchingPlatform
	ErrSandboxUnavailable   = core.ErrSandboxUnavailable
	ErrUnsupportedMediaType = core.ErrUnsupportedMediaType
	ErrClosed               = core.ErrClosed
)
