// Package reference parses image references of the form
// [host[:port]/]repository[:tag][@digest] into their constituent parts,
// applying the same "familiarization" Docker Hub clients use for bare
// repository names.
package reference

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oci/unpack/core"
)

const (
	// DefaultRegistry is assumed when no host component is present.
	DefaultRegistry = "registry-1.docker.io"
	// defaultNamespace is prepended to single-segment repositories on
	// the default registry, mirroring how docker/podman "familiarize"
	// short names like "alpine" into "library/alpine".
	defaultNamespace = "library"
	// DefaultTag is assumed when neither a tag nor a digest is given.
	DefaultTag = "latest"
)

var digestPattern = regexp.MustCompile(`^[a-z0-9]+(?:[.+_-][a-z0-9]+)*:[a-fA-F0-9]{32,}$`)

// Parse splits ref into host, repository, tag and digest components.
//
// Recognized forms:
//
//	alpine                              -> registry-1.docker.io/library/alpine:latest
//	alpine:3.19                         -> registry-1.docker.io/library/alpine:3.19
//	alpine@sha256:abcd...               -> registry-1.docker.io/library/alpine@sha256:abcd...
//	myregistry.example.com:5000/foo/bar -> myregistry.example.com:5000/foo/bar:latest
func Parse(ref string) (core.Reference, error) {
	if strings.TrimSpace(ref) == "" {
		return core.Reference{}, fmt.Errorf("%w: empty reference", core.ErrInvalidRef)
	}

	remainder, digest := splitDigest(ref)

	hostAndRepo, tag := splitTag(remainder)
	if hostAndRepo == "" {
		return core.Reference{}, fmt.Errorf("%w: %q", core.ErrInvalidRef, ref)
	}

	host, repo := splitHost(hostAndRepo)
	if repo == "" {
		return core.Reference{}, fmt.Errorf("%w: %q", core.ErrInvalidRef, ref)
	}

	if host == DefaultRegistry && !strings.Contains(repo, "/") {
		repo = defaultNamespace + "/" + repo
	}

	if tag == "" && digest == "" {
		tag = DefaultTag
	}

	if digest != "" && !digestPattern.MatchString(digest) {
		return core.Reference{}, fmt.Errorf("%w: malformed digest %q", core.ErrInvalidRef, digest)
	}

	return core.Reference{
		Host:       host,
		Repository: repo,
		Tag:        tag,
		Digest:     digest,
	}, nil
}

// splitDigest pulls a trailing "@sha256:..." suffix off ref, if present.
func splitDigest(ref string) (remainder, digest string) {
	if idx := strings.LastIndex(ref, "@"); idx != -1 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, ""
}

// splitTag separates a trailing ":tag" from the repository portion. A
// colon that appears before the last '/' belongs to a host:port, not a
// tag, so it is left alone.
func splitTag(ref string) (hostAndRepo, tag string) {
	lastColon := strings.LastIndex(ref, ":")
	lastSlash := strings.LastIndex(ref, "/")
	if lastColon == -1 || lastColon < lastSlash {
		return ref, ""
	}
	return ref[:lastColon], ref[lastColon+1:]
}

// splitHost decides whether the first path segment names a registry
// host (contains a '.' or ':', or is exactly "localhost") or is itself
// the start of the repository path, defaulting to DefaultRegistry.
func splitHost(hostAndRepo string) (host, repo string) {
	i := strings.IndexRune(hostAndRepo, '/')
	if i == -1 {
		return DefaultRegistry, hostAndRepo
	}

	first := hostAndRepo[:i]
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first, hostAndRepo[i+1:]
	}
	return DefaultRegistry, hostAndRepo
}

// String renders ref back into canonical [host/]repo[:tag][@digest] form.
func String(ref core.Reference) string {
	s := ref.Host + "/" + ref.Repository
	if ref.Tag != "" {
		s += ":" + ref.Tag
	}
	if ref.Digest != "" {
		s += "@" + ref.Digest
	}
	return s
}

// ResolutionTarget returns the tag or digest that should be sent to the
// registry's manifest endpoint, preferring the digest when both are set
// since it is immutable.
func ResolutionTarget(ref core.Reference) string {
	if ref.Digest != "" {
		return ref.Digest
	}
	return ref.Tag
}
