package unpack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/oci/unpack/core"
	"github.com/oci/unpack/internal/archive"
	"github.com/oci/unpack/internal/progress"
	"github.com/oci/unpack/internal/reference"
	"github.com/oci/unpack/internal/sandbox"
)

const manifestFileName = "manifest.json"
const configFileName = "config.json"

// Unpack resolves ref against the registry, downloads every layer of the
// selected platform's manifest, and materializes them onto destDir as:
//
//	destDir/rootfs/        - the image's merged filesystem
//	destDir/manifest.json  - the resolved manifest, for inspection
//	destDir/config.json    - the image config blob, for inspection
//
// On Linux, destDir is placed under a Landlock sandbox before any layer
// data is written, restricting the process to that subtree for the rest
// of the call; WithoutSandbox skips this.
func (c *Client) Unpack(ctx context.Context, ref, destDir string, opts ...UnpackOption) error {
	cfg := &unpackConfig{platformOS: runtime.GOOS, platformArch: runtime.GOARCH}
	for _, opt := range opts {
		opt(cfg)
	}

	parsedRef, err := reference.Parse(ref)
	if err != nil {
		return fmt.Errorf("parse reference %s: %w", ref, err)
	}
	target := parsedRef.Tag
	if parsedRef.Digest != "" {
		target = parsedRef.Digest
	}

	layers, manifestDigest, err := c.registry.ResolveManifest(ctx, parsedRef, target, cfg.platformOS, cfg.platformArch, cfg.platformVar)
	if err != nil {
		return fmt.Errorf("resolve manifest for %s: %w", ref, err)
	}

	configData, configDesc, err := c.registry.FetchConfig(ctx, parsedRef, target, cfg.platformOS, cfg.platformArch, cfg.platformVar)
	if err != nil {
		return fmt.Errorf("fetch config for %s: %w", ref, err)
	}

	pinnedRef := parsedRef
	pinnedRef.Tag = ""
	pinnedRef.Digest = manifestDigest
	cacheKey := reference.String(pinnedRef)

	archiveLayers, digesters, closers, err := c.fetchLayers(ctx, cacheKey, layers, cfg.progress)
	defer func() {
		for _, closer := range closers {
			closer.Close()
		}
	}()
	if err != nil {
		return fmt.Errorf("fetch layers for %s: %w", ref, err)
	}

	rootfsDir := filepath.Join(destDir, "rootfs")
	if err := os.MkdirAll(rootfsDir, 0o755); err != nil {
		return fmt.Errorf("create rootfs dir: %w", err)
	}

	if !cfg.noSandbox {
		if err := sandbox.New().RestrictTo(destDir); err != nil {
			return fmt.Errorf("install sandbox: %w", err)
		}
	}

	if err := archive.Materialize(ctx, archiveLayers, rootfsDir, c.validator, cfg.limits, c.logger); err != nil {
		return fmt.Errorf("materialize %s: %w", ref, err)
	}

	for i, d := range digesters {
		// Extraction stops at the tar end-of-archive marker; read whatever
		// follows (padding, compression trailer) so the digest covers the
		// whole blob.
		if _, err := io.Copy(io.Discard, archiveLayers[i].Reader); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if got := d.Digest().String(); got != layers[i].Digest {
			return fmt.Errorf("layer %d: %w: expected %s, got %s", i, core.ErrDigestMismatch, layers[i].Digest, got)
		}
	}

	if err := writeSidecarFiles(destDir, layers, configDesc, configData); err != nil {
		return fmt.Errorf("write manifest/config for %s: %w", ref, err)
	}

	return nil
}

// fetchLayers opens a stream for every layer (through the cache when one
// is configured) and wraps each with a digest verifier and, if cfg asks
// for it, a progress reporter. Callers must close the returned readers
// once done with them, regardless of the returned error.
func (c *Client) fetchLayers(ctx context.Context, cacheKey string, layers []core.LayerDescriptor, onProgress ProgressCallback) ([]archive.Layer, []digest.Digester, []io.Closer, error) {
	archiveLayers := make([]archive.Layer, 0, len(layers))
	digesters := make([]digest.Digester, 0, len(layers))
	closers := make([]io.Closer, 0, len(layers))

	for i, desc := range layers {
		if err := ctx.Err(); err != nil {
			return archiveLayers, digesters, closers, err
		}

		blob, err := c.openLayer(ctx, cacheKey, desc)
		if err != nil {
			return archiveLayers, digesters, closers, fmt.Errorf("layer %d (%s): %w", i, desc.Digest, err)
		}
		closers = append(closers, blob)

		want, err := digest.Parse(desc.Digest)
		if err != nil {
			return archiveLayers, digesters, closers, fmt.Errorf("layer %d: %w: %v", i, core.ErrInvalidArchive, err)
		}
		digester := want.Algorithm().Digester()

		reader := wrapReaderForProgress(io.NopCloser(io.TeeReader(blob, digester.Hash())), desc.Size, onProgress)
		archiveLayers = append(archiveLayers, archive.Layer{MediaType: desc.MediaType, Reader: reader})
		digesters = append(digesters, digester)
	}

	return archiveLayers, digesters, closers, nil
}

// writeSidecarFiles writes manifest.json and config.json into destDir.
// The manifest is reconstructed from the resolved layer and config
// descriptors rather than preserving the registry's original manifest
// bytes; it is equivalent in content, just not byte-identical.
func writeSidecarFiles(destDir string, layers []core.LayerDescriptor, configDesc core.LayerDescriptor, configData []byte) error {
	layerDescs := make([]ocispec.Descriptor, len(layers))
	for i, l := range layers {
		d, err := digest.Parse(l.Digest)
		if err != nil {
			return fmt.Errorf("layer %d: %w: %v", i, core.ErrInvalidArchive, err)
		}
		layerDescs[i] = ocispec.Descriptor{MediaType: l.MediaType, Digest: d, Size: l.Size}
	}

	configDigest, err := digest.Parse(configDesc.Digest)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidArchive, err)
	}

	manifest := ocispec.Manifest{
		Versioned: ocispecVersioned2,
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.Descriptor{MediaType: configDesc.MediaType, Digest: configDigest, Size: configDesc.Size},
		Layers:    layerDescs,
	}

	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(destDir, manifestFileName), manifestJSON, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", manifestFileName, err)
	}
	if err := os.WriteFile(filepath.Join(destDir, configFileName), configData, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", configFileName, err)
	}
	return nil
}

var ocispecVersioned2 = ocispec.Versioned{SchemaVersion: 2}

// wrapReaderForProgress wraps an io.ReadCloser with progress tracking.
// If callback is nil, returns the original reader unchanged.
func wrapReaderForProgress(r io.ReadCloser, total int64, callback ProgressCallback) io.Reader {
	if callback == nil {
		return r
	}
	return progress.NewReader(r, total, func(transferred, totalBytes int64) {
		callback(ProgressEvent{
			Operation:        "fetch",
			BytesTransferred: transferred,
			TotalBytes:       totalBytes,
		})
	})
}
