package unpack

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"oras.land/oras-go/v2/registry/remote/credentials"

	"github.com/oci/unpack/core"
	"github.com/oci/unpack/internal/registry"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// UnpackOption configures a single Unpack call.
type UnpackOption func(*unpackConfig)

// ExtractLimits defines safety limits for extraction.
// Re-exported from core package.
type ExtractLimits = core.ExtractLimits

// unpackConfig holds per-call configuration for Unpack.
type unpackConfig struct {
	limits                                ExtractLimits
	platformOS, platformArch, platformVar string
	noSandbox                             bool
	progress                              ProgressCallback
}

// WithProgress reports layer fetch progress as each layer blob streams in.
func WithProgress(callback ProgressCallback) UnpackOption {
	return func(c *unpackConfig) {
		c.progress = callback
	}
}

// WithCredentials sets explicit credentials for a specific registry.
func WithCredentials(registryHost, username, password string) ClientOption {
	return func(c *Client) error {
		c.credStore = staticCredentials(registryHost, username, password)
		return nil
	}
}

// WithCredentialStore sets a custom credential store.
func WithCredentialStore(store credentials.Store) ClientOption {
	return func(c *Client) error {
		c.credStore = store
		return nil
	}
}

// WithExtractLimits sets safety limits for this Unpack call.
func WithExtractLimits(limits ExtractLimits) UnpackOption {
	return func(c *unpackConfig) {
		c.limits = limits
	}
}

// WithPlatform overrides the (os, architecture, variant) selected out of
// an image index. Empty fields fall back to the host's runtime values.
func WithPlatform(os, arch, variant string) UnpackOption {
	return func(c *unpackConfig) {
		if os != "" {
			c.platformOS = os
		}
		if arch != "" {
			c.platformArch = arch
		}
		c.platformVar = variant
	}
}

// WithoutSandbox disables the Landlock filesystem sandbox for this
// Unpack call. Intended for platforms or test environments where
// Landlock is known to be unavailable and the caller accepts the risk.
func WithoutSandbox() UnpackOption {
	return func(c *unpackConfig) {
		c.noSandbox = true
	}
}

// WithInsecure allows connections to registries without TLS.
func WithInsecure(insecure bool) ClientOption {
	return func(c *Client) error {
		c.plainHTTP = insecure
		return nil
	}
}

// WithLogger sets a logger for the client. By default, logging is disabled.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithUserAgent sets a custom User-Agent header for registry requests.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// WithCacheDir enables blob caching at the specified directory path.
// When caching is enabled, blobs are stored locally after download and
// served from the cache on subsequent requests.
//
// The cache directory structure is:
//
//	<path>/blobs/sha256/<hash>     - cached blob files
//	<path>/entries/sha256/<hash>.json - cache metadata
//
// If the directory does not exist, it will be created.
// Caching is opt-in; if not specified, no caching is performed.
func WithCacheDir(path string) ClientOption {
	return func(c *Client) error {
		if path != "" && path[0] == '~' {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("expand home directory: %w", err)
			}
			path = filepath.Join(home, path[1:])
		}

		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve cache path: %w", err)
		}

		c.cacheDir = absPath
		return nil
	}
}

// WithMaxCacheEntries bounds the disk cache to at most n entries,
// evicting the least-recently-accessed blob first. Zero means no limit.
// Takes effect the next time Prune is called; it does not evict eagerly.
func WithMaxCacheEntries(n int) ClientOption {
	return func(c *Client) error {
		c.maxCacheEntries = n
		return nil
	}
}

// WithCacheTTL sets the maximum age of a cache entry before Prune evicts
// it regardless of the entry-count limit. Zero means no age limit.
func WithCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) error {
		c.cacheTTL = ttl
		return nil
	}
}

// staticCredentials returns a credential store with a single static credential.
func staticCredentials(registryHost, username, password string) credentials.Store {
	return registry.StaticCredentials(registryHost, username, password)
}
