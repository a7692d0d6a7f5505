// Package core provides the shared data types and sentinel errors used
// across unpack's registry, archive, cache, and sandbox packages.
package core

import "errors"

// Sentinel errors for the error kinds named in the orchestrator contract.
var (
	// ErrInvalidRef indicates the image reference is malformed.
	ErrInvalidRef = errors.New("unpack: invalid reference")

	// ErrNetwork indicates a transport failure (connect, TLS, timeout, or
	// read error) that persisted after the retry budget was exhausted.
	ErrNetwork = errors.New("unpack: network error")

	// ErrHTTPStatus indicates a non-retryable HTTP response (4xx other
	// than 401).
	ErrHTTPStatus = errors.New("unpack: unexpected http status")

	// ErrUnauthorized indicates authentication failed, including a 401
	// received again after a token exchange.
	ErrUnauthorized = errors.New("unpack: unauthorized")

	// ErrUnsupportedMediaType indicates a manifest or layer media type
	// outside the accepted set.
	ErrUnsupportedMediaType = errors.New("unpack: unsupported media type")

	// ErrNoMatchingPlatform indicates an image index has no entry for
	// the host's (os, architecture).
	ErrNoMatchingPlatform = errors.New("unpack: no matching platform")

	// ErrDigestMismatch indicates stream verification failed: the
	// computed digest did not match the expected one.
	ErrDigestMismatch = errors.New("unpack: digest mismatch")

	// ErrSizeMismatch indicates the declared blob size differs from the
	// number of bytes actually streamed.
	ErrSizeMismatch = errors.New("unpack: size mismatch")

	// ErrPathTraversal indicates a tar entry path escapes the
	// destination rootfs.
	ErrPathTraversal = errors.New("unpack: unsafe path")

	// ErrExtractLimits indicates extraction safety limits were exceeded.
	ErrExtractLimits = errors.New("unpack: extraction limits exceeded")

	// ErrInvalidArchive indicates the layer blob is not a well-formed
	// tar stream, or carries a header the materializer cannot decode.
	ErrInvalidArchive = errors.New("unpack: invalid archive")

	// ErrUnsupportedEntryType indicates a tar entry is a device node,
	// FIFO, or socket.
	ErrUnsupportedEntryType = errors.New("unpack: unsupported entry type")

	// ErrSandboxUnavailable indicates the kernel does not support the
	// filesystem sandbox primitive, or installing it was refused.
	ErrSandboxUnavailable = errors.New("unpack: sandbox unavailable")

	// ErrNotFound indicates the requested manifest, blob, or cache entry
	// does not exist.
	ErrNotFound = errors.New("unpack: not found")

	// ErrRangeNotSupported indicates the registry does not honor Range
	// requests for blob downloads.
	ErrRangeNotSupported = errors.New("unpack: range requests not supported")

	// ErrClosed indicates an operation was attempted on a closed resource.
	ErrClosed = errors.New("unpack: resource closed")
)
