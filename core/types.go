// Package core provides the shared data types used across unpack's
// registry, archive, cache, and sandbox packages.
package core

// Reference identifies a single image in a registry: a repository plus
// either a tag or a digest (or both, when a tag was resolved to a digest).
type Reference struct {
	// Host is the registry host, e.g. "registry-1.docker.io".
	Host string
	// Repository is the repository path, e.g. "library/alpine".
	Repository string
	// Tag is the human-readable tag, e.g. "latest". Empty if the
	// reference was given by digest only.
	Tag string
	// Digest is the content digest, e.g. "sha256:...". Empty until
	// resolved, unless the reference was given by digest.
	Digest string
}

// Platform selects a single manifest out of an image index.
type Platform struct {
	Architecture string
	OS           string
	// Variant disambiguates architecture revisions, e.g. "v8" for arm64.
	// Empty means "don't care" during matching but is filled in from the
	// resolved manifest afterward.
	Variant string
}

// String renders the platform in os/arch[/variant] form.
func (p Platform) String() string {
	s := p.OS + "/" + p.Architecture
	if p.Variant != "" {
		s += "/" + p.Variant
	}
	return s
}

// LayerDescriptor captures the resolved layer metadata plus platform context.
// Used as the cache key and for blob retrieval operations.
type LayerDescriptor struct {
	// Digest is the digest of the compressed blob (sha256:... or sha512:...).
	// This is the primary cache key.
	Digest string
	// Size is the total blob size in bytes.
	Size int64
	// MediaType is the OCI media type of the layer.
	MediaType string
	// ManifestDigest is the digest of the manifest that contained this layer.
	// Used for tag drift detection during partial caching.
	ManifestDigest string
	// Platform is the target platform in os/arch[/variant] format.
	Platform string
}

// ExtractLimits defines safety limits for materializing a layer's tar
// stream onto the filesystem.
type ExtractLimits struct {
	MaxFiles     int   // Maximum number of files (0 = no limit)
	MaxTotalSize int64 // Maximum total extracted size (0 = no limit)
	MaxFileSize  int64 // Maximum single file size (0 = no limit)

	// StrictOwnership, when true, rejects a layer whose tar entries carry
	// a uid/gid the calling process cannot apply (instead of falling
	// back to the current euid/egid with a logged warning).
	StrictOwnership bool
}

// TarEntryKind names the kinds of tar entry an OCI layer can carry,
// including whiteout and opaque markers. The materializer in
// internal/archive does not use it: it dispatches on the raw tar
// typeflag and checks the ".wh." name prefix itself.
type TarEntryKind int

const (
	// EntryRegular is a plain file.
	EntryRegular TarEntryKind = iota
	// EntryDir is a directory.
	EntryDir
	// EntrySymlink is a symbolic link.
	EntrySymlink
	// EntryHardlink is a hard link to a previously-extracted regular file.
	EntryHardlink
	// EntryWhiteout removes a single path inherited from a lower layer.
	EntryWhiteout
	// EntryOpaqueDir marks a directory whose lower-layer contents must
	// not be inherited, even though the directory itself is kept.
	EntryOpaqueDir
)
