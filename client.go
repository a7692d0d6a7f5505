package unpack

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/oci/unpack/core"
	"github.com/oci/unpack/internal/cache"
	"github.com/oci/unpack/internal/reference"
	"github.com/oci/unpack/internal/registry"
	"github.com/oci/unpack/internal/safepath"
)

// Client pulls OCI images from a registry and materializes them onto the
// local filesystem.
type Client struct {
	registry  *registry.Client
	validator *safepath.Validator
	logger    *slog.Logger

	plainHTTP bool
	userAgent string
	credStore credentials.Store

	cacheDir        string
	cache           *cache.Cache
	maxCacheEntries int
	cacheTTL        time.Duration
}

// NewClient creates a Client. Without WithCacheDir, every Unpack call
// fetches layers directly from the registry with no local reuse.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		validator: safepath.NewValidator(),
		logger:    slog.New(slog.DiscardHandler),
		userAgent: "unpack/1.0",
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	c.registry = registry.New(
		registry.WithCredentialStore(c.credStore),
		registry.WithPlainHTTP(c.plainHTTP),
		registry.WithUserAgent(c.userAgent),
		registry.WithDescriptorCache(true),
	)

	if c.cacheDir != "" {
		blobCache, err := cache.New(c.cacheDir, &registryFetcher{registry: c.registry}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("open cache at %s: %w", c.cacheDir, err)
		}
		c.cache = blobCache
	}

	return c, nil
}

// Prune evicts cache entries per the client's WithMaxCacheEntries and
// WithCacheTTL settings. It is a no-op if no cache is configured.
func (c *Client) Prune(ctx context.Context) (cache.PruneResult, error) {
	if c.cache == nil {
		return cache.PruneResult{}, nil
	}
	return c.cache.Prune(ctx, cache.PruneOptions{
		MaxEntries: c.maxCacheEntries,
		MaxAge:     c.cacheTTL,
	})
}

// openLayer returns a reader over a layer's raw (compressed) bytes,
// through the cache when one is configured.
func (c *Client) openLayer(ctx context.Context, ref string, desc core.LayerDescriptor) (io.ReadCloser, error) {
	if c.cache != nil {
		return c.cache.OpenStreamThrough(ctx, ref, desc)
	}
	parsed, err := reference.Parse(ref)
	if err != nil {
		return nil, err
	}
	return c.registry.FetchBlob(ctx, parsed, desc)
}

// registryFetcher adapts *registry.Client's core.Reference-keyed blob
// methods to cache.BlobFetcher's string-keyed ones: the cache stores refs
// as plain strings (its cache key, not a live connection), so this
// parses that string back into the structured reference the registry
// client needs.
type registryFetcher struct {
	registry *registry.Client
}

func (f *registryFetcher) FetchBlob(ctx context.Context, ref string, desc core.LayerDescriptor) (io.ReadCloser, error) {
	parsed, err := reference.Parse(ref)
	if err != nil {
		return nil, err
	}
	return f.registry.FetchBlob(ctx, parsed, desc)
}

func (f *registryFetcher) FetchBlobRange(ctx context.Context, ref string, desc core.LayerDescriptor, offset, length int64) (io.ReadCloser, error) {
	parsed, err := reference.Parse(ref)
	if err != nil {
		return nil, err
	}
	return f.registry.FetchBlobRange(ctx, parsed, desc, offset, length)
}
