// Package registry provides OCI Distribution registry operations: bearer
// authentication, manifest/index resolution with platform selection, and
// content-addressed blob retrieval.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/oci/unpack/core"
)

// Option configures a Client.
type Option func(*Client)

// Client resolves image references against an OCI distribution registry
// and fetches their manifests, indexes, and layer blobs.
type Client struct {
	plainHTTP       bool
	userAgent       string
	credStore       credentials.Store
	descriptorCache *descriptorCache
	authCache       *authCache
	httpClient      *http.Client
}

// New creates a registry Client.
func New(opts ...Option) *Client {
	c := &Client{
		userAgent:  "unpack/1.0",
		authCache:  newAuthCache(),
		httpClient: retry.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCredentialStore sets the credential store used for bearer token
// exchange. Registries that challenge with Basic auth are not supported.
func WithCredentialStore(store credentials.Store) Option {
	return func(c *Client) { c.credStore = store }
}

// WithPlainHTTP enables insecure HTTP connections (for local test registries).
func WithPlainHTTP(plainHTTP bool) Option {
	return func(c *Client) { c.plainHTTP = plainHTTP }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithDescriptorCache enables in-memory caching of resolved manifest
// descriptors. This can serve stale data for mutable tags; prefer digest
// references when freshness matters.
func WithDescriptorCache(enabled bool) Option {
	return func(c *Client) {
		if enabled {
			c.descriptorCache = newDescriptorCache()
			return
		}
		c.descriptorCache = nil
	}
}

type resolvedManifest struct {
	layers         []ocispec.Descriptor
	manifestDigest string
	platform       string
}

type descriptorCache struct {
	mu      sync.RWMutex
	entries map[string]resolvedManifest
}

func newDescriptorCache() *descriptorCache {
	return &descriptorCache{entries: make(map[string]resolvedManifest)}
}

func (c *descriptorCache) Get(key string) (resolvedManifest, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	return entry, ok
}

func (c *descriptorCache) Set(key string, entry resolvedManifest) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// ResolveManifest resolves a reference to its ordered layer descriptors,
// selecting a single-platform manifest out of an image index when
// necessary. platformOS/platformArch/platformVariant select the target
// platform; an empty variant matches any variant for the requested
// (os, arch) pair, preferring an exact variant match when one exists.
func (c *Client) ResolveManifest(ctx context.Context, ref core.Reference, target string, platformOS, platformArch, platformVariant string) ([]core.LayerDescriptor, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	repo, err := c.newRepository(ref)
	if err != nil {
		return nil, "", fmt.Errorf("create repository: %w", err)
	}

	cacheKey := ref.Host + "/" + ref.Repository + "@" + target + "|" + platformOS + "/" + platformArch + "/" + platformVariant
	if c.descriptorCache != nil {
		if cached, ok := c.descriptorCache.Get(cacheKey); ok {
			return toLayerDescriptors(cached.layers, cached.manifestDigest, cached.platform), cached.manifestDigest, nil
		}
	}

	layers, manifestDigest, platform, err := c.resolveManifestFull(ctx, repo, target, platformOS, platformArch, platformVariant)
	if err != nil {
		return nil, "", err
	}

	if c.descriptorCache != nil {
		c.descriptorCache.Set(cacheKey, resolvedManifest{layers: layers, manifestDigest: manifestDigest, platform: platform})
	}

	return toLayerDescriptors(layers, manifestDigest, platform), manifestDigest, nil
}

func toLayerDescriptors(layers []ocispec.Descriptor, manifestDigest, platform string) []core.LayerDescriptor {
	out := make([]core.LayerDescriptor, len(layers))
	for i, l := range layers {
		out[i] = core.LayerDescriptor{
			Digest:         l.Digest.String(),
			Size:           l.Size,
			MediaType:      l.MediaType,
			ManifestDigest: manifestDigest,
			Platform:       platform,
		}
	}
	return out
}

// FetchConfig resolves target to a single-platform manifest exactly as
// ResolveManifest does, then fetches the raw image configuration blob the
// manifest points to. The returned descriptor carries the config's digest,
// size and media type so callers can verify and cache it like any other
// blob.
func (c *Client) FetchConfig(ctx context.Context, ref core.Reference, target string, platformOS, platformArch, platformVariant string) ([]byte, core.LayerDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.LayerDescriptor{}, err
	}

	repo, err := c.newRepository(ref)
	if err != nil {
		return nil, core.LayerDescriptor{}, fmt.Errorf("create repository: %w", err)
	}

	configDesc, manifestDigest, platform, err := c.resolveConfigDescriptor(ctx, repo, target, platformOS, platformArch, platformVariant)
	if err != nil {
		return nil, core.LayerDescriptor{}, err
	}

	configReader, err := repo.Blobs().Fetch(ctx, configDesc)
	if err != nil {
		return nil, core.LayerDescriptor{}, mapError(err)
	}
	defer configReader.Close()

	data, err := io.ReadAll(configReader)
	if err != nil {
		return nil, core.LayerDescriptor{}, fmt.Errorf("read config: %w", err)
	}

	return data, core.LayerDescriptor{
		Digest:         configDesc.Digest.String(),
		Size:           configDesc.Size,
		MediaType:      configDesc.MediaType,
		ManifestDigest: manifestDigest,
		Platform:       platform,
	}, nil
}

// resolveConfigDescriptor mirrors resolveManifestFull's manifest/index
// resolution but returns the manifest's config descriptor instead of its
// layers.
func (c *Client) resolveConfigDescriptor(ctx context.Context, repo *remote.Repository, target, platformOS, platformArch, platformVariant string) (ocispec.Descriptor, string, string, error) {
	desc, manifestReader, err := repo.Manifests().FetchReference(ctx, target)
	if err != nil {
		return ocispec.Descriptor{}, "", "", mapError(err)
	}
	defer manifestReader.Close()

	manifestData, err := io.ReadAll(manifestReader)
	if err != nil {
		return ocispec.Descriptor{}, "", "", fmt.Errorf("read manifest: %w", err)
	}

	if isIndex(desc.MediaType) {
		var index ocispec.Index
		if err := json.Unmarshal(manifestData, &index); err != nil {
			return ocispec.Descriptor{}, "", "", fmt.Errorf("%w: decode index: %v", core.ErrInvalidArchive, err)
		}
		if len(index.Manifests) == 0 {
			return ocispec.Descriptor{}, "", "", core.ErrNotFound
		}
		selected := selectPlatform(index.Manifests, platformOS, platformArch, platformVariant)
		if selected == nil {
			return ocispec.Descriptor{}, "", "", fmt.Errorf("%w: %s/%s", core.ErrNoMatchingPlatform, platformOS, platformArch)
		}

		manifestReader, err := repo.Manifests().Fetch(ctx, *selected)
		if err != nil {
			return ocispec.Descriptor{}, "", "", mapError(err)
		}
		defer manifestReader.Close()

		manifestData, err = io.ReadAll(manifestReader)
		if err != nil {
			return ocispec.Descriptor{}, "", "", fmt.Errorf("read manifest: %w", err)
		}

		var manifest ocispec.Manifest
		if err := json.Unmarshal(manifestData, &manifest); err != nil {
			return ocispec.Descriptor{}, "", "", fmt.Errorf("%w: decode manifest: %v", core.ErrInvalidArchive, err)
		}
		platform := selected.Platform.OS + "/" + selected.Platform.Architecture
		if selected.Platform.Variant != "" {
			platform += "/" + selected.Platform.Variant
		}
		return manifest.Config, selected.Digest.String(), platform, nil
	}

	if !isManifest(desc.MediaType) {
		return ocispec.Descriptor{}, "", "", fmt.Errorf("%w: %s", core.ErrUnsupportedMediaType, desc.MediaType)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return ocispec.Descriptor{}, "", "", fmt.Errorf("%w: decode manifest: %v", core.ErrInvalidArchive, err)
	}

	platform := platformOS + "/" + platformArch
	if platformVariant != "" {
		platform += "/" + platformVariant
	}
	return manifest.Config, desc.Digest.String(), platform, nil
}

// resolveManifestFull fetches the manifest (or index) named by target and
// returns its ordered layers, its own digest, and the platform string of
// the manifest that was ultimately selected.
func (c *Client) resolveManifestFull(ctx context.Context, repo *remote.Repository, target, platformOS, platformArch, platformVariant string) ([]ocispec.Descriptor, string, string, error) {
	desc, manifestReader, err := repo.Manifests().FetchReference(ctx, target)
	if err != nil {
		return nil, "", "", mapError(err)
	}
	defer manifestReader.Close()

	manifestData, err := io.ReadAll(manifestReader)
	if err != nil {
		return nil, "", "", fmt.Errorf("read manifest: %w", err)
	}

	if isIndex(desc.MediaType) {
		return c.resolveFromIndex(ctx, repo, manifestData, platformOS, platformArch, platformVariant)
	}

	if !isManifest(desc.MediaType) {
		return nil, "", "", fmt.Errorf("%w: %s", core.ErrUnsupportedMediaType, desc.MediaType)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, "", "", fmt.Errorf("%w: decode manifest: %v", core.ErrInvalidArchive, err)
	}
	if len(manifest.Layers) == 0 {
		return nil, "", "", core.ErrNotFound
	}

	platform := platformOS + "/" + platformArch
	if platformVariant != "" {
		platform += "/" + platformVariant
	}

	return manifest.Layers, desc.Digest.String(), platform, nil
}

// resolveFromIndex selects a manifest from an OCI index (or Docker
// manifest list) matching the requested platform. Selection prefers an
// exact variant match, then a manifest with no variant recorded, and
// uses a manifest whose variant mismatches the request last. If nothing
// matches (os, arch), it returns core.ErrNoMatchingPlatform.
func (c *Client) resolveFromIndex(ctx context.Context, repo *remote.Repository, indexData []byte, platformOS, platformArch, platformVariant string) ([]ocispec.Descriptor, string, string, error) {
	var index ocispec.Index
	if err := json.Unmarshal(indexData, &index); err != nil {
		return nil, "", "", fmt.Errorf("%w: decode index: %v", core.ErrInvalidArchive, err)
	}
	if len(index.Manifests) == 0 {
		return nil, "", "", core.ErrNotFound
	}

	selected := selectPlatform(index.Manifests, platformOS, platformArch, platformVariant)
	if selected == nil {
		return nil, "", "", fmt.Errorf("%w: %s/%s", core.ErrNoMatchingPlatform, platformOS, platformArch)
	}

	manifestReader, err := repo.Manifests().Fetch(ctx, *selected)
	if err != nil {
		return nil, "", "", mapError(err)
	}
	defer manifestReader.Close()

	manifestData, err := io.ReadAll(manifestReader)
	if err != nil {
		return nil, "", "", fmt.Errorf("read manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, "", "", fmt.Errorf("%w: decode manifest: %v", core.ErrInvalidArchive, err)
	}
	if len(manifest.Layers) == 0 {
		return nil, "", "", core.ErrNotFound
	}

	platform := selected.Platform.OS + "/" + selected.Platform.Architecture
	if selected.Platform.Variant != "" {
		platform += "/" + selected.Platform.Variant
	}

	return manifest.Layers, selected.Digest.String(), platform, nil
}

// selectPlatform filters candidates to those matching (os, arch) exactly,
// then prefers an exact variant match, falling back to a candidate with
// no variant recorded, and finally to any surviving candidate.
func selectPlatform(candidates []ocispec.Descriptor, os, arch, variant string) *ocispec.Descriptor {
	var matches []*ocispec.Descriptor
	for i := range candidates {
		m := &candidates[i]
		if m.Platform == nil || m.Platform.OS != os || m.Platform.Architecture != arch {
			continue
		}
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		return nil
	}

	if variant != "" {
		for _, m := range matches {
			if m.Platform.Variant == variant {
				return m
			}
		}
	}
	for _, m := range matches {
		if m.Platform.Variant == "" {
			return m
		}
	}
	return matches[0]
}

func isIndex(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageIndex ||
		mediaType == "application/vnd.docker.distribution.manifest.list.v2+json"
}

func isManifest(mediaType string) bool {
	return mediaType == ocispec.MediaTypeImageManifest ||
		mediaType == "application/vnd.docker.distribution.manifest.v2+json"
}

// FetchBlob fetches a blob by its descriptor, returning a reader over the
// raw (still compressed) bytes.
func (c *Client) FetchBlob(ctx context.Context, ref core.Reference, desc core.LayerDescriptor) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	repo, err := c.newRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	blobDigest, err := digest.Parse(desc.Digest)
	if err != nil {
		return nil, fmt.Errorf("parse digest: %w", err)
	}

	ociDesc := ocispec.Descriptor{MediaType: desc.MediaType, Digest: blobDigest, Size: desc.Size}

	blobReader, err := repo.Blobs().Fetch(ctx, ociDesc)
	if err != nil {
		return nil, mapError(err)
	}
	return blobReader, nil
}

// FetchBlobRange fetches a byte range [offset, offset+length) of a blob,
// for resuming a partial download. Returns core.ErrRangeNotSupported if
// the registry ignores the Range header and serves the full blob.
func (c *Client) FetchBlobRange(ctx context.Context, ref core.Reference, desc core.LayerDescriptor, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, errors.New("offset must be non-negative")
	}
	if length <= 0 {
		return nil, errors.New("length must be positive")
	}
	if offset > math.MaxInt64-length {
		return nil, errors.New("range overflow: offset + length exceeds maximum")
	}

	repo, err := c.newRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	scheme := "https"
	if c.plainHTTP {
		scheme = "http"
	}
	blobURL := (&url.URL{Scheme: scheme, Host: ref.Host}).JoinPath("v2", ref.Repository, "blobs", desc.Digest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := repo.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch range: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if err := validateContentRange(resp.Header.Get("Content-Range"), offset, length); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("invalid Content-Range: %w", err)
		}
		return resp.Body, nil
	case http.StatusOK:
		resp.Body.Close()
		return nil, core.ErrRangeNotSupported
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, core.ErrUnauthorized
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, core.ErrNotFound
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", core.ErrHTTPStatus, resp.StatusCode)
	}
}

// validateContentRange validates the Content-Range header against expected values.
// Format: "bytes <start>-<end>/<total>" or "bytes <start>-<end>/*"
func validateContentRange(header string, expectedOffset, expectedLength int64) error {
	if header == "" {
		return nil
	}

	var start, end int64
	var total string
	n, err := fmt.Sscanf(header, "bytes %d-%d/%s", &start, &end, &total)
	if n < 2 || (err != nil && n < 2) {
		return fmt.Errorf("malformed Content-Range header: %s", header)
	}
	if start != expectedOffset {
		return fmt.Errorf("start offset mismatch: expected %d, got %d", expectedOffset, start)
	}
	if actualLength := end - start + 1; actualLength != expectedLength {
		return fmt.Errorf("length mismatch: expected %d, got %d", expectedLength, actualLength)
	}
	return nil
}

// newRepository creates a remote repository whose Client is our own
// bearer-challenge-aware round tripper, still riding on oras-go's
// exponential-backoff transport underneath.
func (c *Client) newRepository(ref core.Reference) (*remote.Repository, error) {
	repoRef := ref.Host + "/" + ref.Repository
	repo, err := remote.NewRepository(repoRef)
	if err != nil {
		return nil, err
	}
	repo.PlainHTTP = c.plainHTTP
	repo.Client = &bearerRepositoryClient{
		inner:     c.httpClient,
		userAgent: c.userAgent,
		credStore: c.credStore,
		cache:     c.authCache,
	}
	return repo, nil
}

// bearerRepositoryClient implements oras-go's remote.Client interface
// (Do(*http.Request) (*http.Response, error)) using our hand-rolled
// bearer-challenge parser and token exchange rather than oras-go's
// auth.Client, so the bearer flow named in the orchestrator contract is
// our own testable code. registry.ParseReference is left to callers;
// this type only needs the interface shape.
type bearerRepositoryClient struct {
	inner     *http.Client
	userAgent string
	credStore credentials.Store
	cache     *authCache
}

func (b *bearerRepositoryClient) Do(req *http.Request) (*http.Response, error) {
	if b.userAgent != "" {
		req.Header.Set("User-Agent", b.userAgent)
	}

	// Keyed on host only: a bearer token obtained for a manifest pull is
	// valid for the blob pulls that follow against the same registry, so
	// caching per path would force a redundant token exchange on every
	// new request path.
	scope := req.URL.Host
	if token, ok := b.cache.Get(scope); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := b.inner.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	challenge, ok := parseBearerChallenge(resp.Header)
	if !ok {
		return resp, nil
	}
	resp.Body.Close()

	username, password := b.credentials(req.Context(), req.URL.Host)
	token, err := exchangeToken(req.Context(), b.inner, challenge, username, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
	}
	b.cache.Set(scope, token)

	retryReq := req.Clone(req.Context())
	retryReq.Header.Set("Authorization", "Bearer "+token)
	retryResp, err := b.inner.Do(retryReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	if retryResp.StatusCode == http.StatusUnauthorized {
		b.cache.Invalidate(scope)
	}
	return retryResp, nil
}

func (b *bearerRepositoryClient) credentials(ctx context.Context, host string) (username, password string) {
	if b.credStore == nil {
		return "", ""
	}
	cred, err := b.credStore.Get(ctx, host)
	if err != nil {
		return "", ""
	}
	return cred.Username, cred.Password
}
