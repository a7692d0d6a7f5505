package unpack

import (
	"context"
	"log/slog"
	"time"

	"github.com/oci/unpack/internal/cache"
)

// CacheEntry describes a single cached blob, for inspection tooling.
type CacheEntry struct {
	Digest       string
	Size         int64
	MediaType    string
	Complete     bool
	LastAccessed time.Time
}

// CacheStats summarizes the contents of a blob cache directory.
type CacheStats struct {
	Path       string
	EntryCount int
	TotalSize  int64
	Entries    []CacheEntry
}

// CachePruneOptions mirrors cache.PruneOptions for callers that only have
// a cache directory path, not a live Client.
type CachePruneOptions struct {
	MaxEntries int
	MaxAge     time.Duration
}

// CacheInfo reports statistics about the blob cache at path, without
// requiring a registry connection.
func CacheInfo(path string) (CacheStats, error) {
	c, err := cache.New(path, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		return CacheStats{}, err
	}

	entries, err := c.Entries()
	if err != nil {
		return CacheStats{}, err
	}

	stats := CacheStats{Path: path, EntryCount: len(entries)}
	stats.Entries = make([]CacheEntry, len(entries))
	for i, e := range entries {
		stats.TotalSize += e.Size
		stats.Entries[i] = CacheEntry{
			Digest:       e.Digest,
			Size:         e.Size,
			MediaType:    e.MediaType,
			Complete:     e.Complete,
			LastAccessed: e.LastAccessed,
		}
	}
	return stats, nil
}

// CacheClear removes every entry from the blob cache at path.
func CacheClear(path string) error {
	c, err := cache.New(path, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	return c.Clear()
}

// CachePrune evicts entries from the blob cache at path per opts.
func CachePrune(ctx context.Context, path string, opts CachePruneOptions) (cache.PruneResult, error) {
	c, err := cache.New(path, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		return cache.PruneResult{}, err
	}
	return c.Prune(ctx, cache.PruneOptions{MaxEntries: opts.MaxEntries, MaxAge: opts.MaxAge})
}
