package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oci/unpack/core"
)

// pathValidator is the narrow surface materialize needs from safepath.Validator.
type pathValidator interface {
	ValidatePath(path string) error
	ValidateSymlink(destDir, linkPath, target string) error
	ValidateHardlinkTarget(destDir, linkPath, target string) error
}

// whiteoutPrefix marks a tar entry that removes a path from a lower
// layer. opaqueMarker marks a directory whose lower-layer contents must
// not be inherited.
const (
	whiteoutPrefix = ".wh."
	opaqueMarker   = ".wh..wh..opq"
)

// Layer pairs a layer blob's stream, as fetched (still compressed, and
// not digest-checked here), with its media type, which selects the
// decompressor applied before the stream reaches the tar reader.
type Layer struct {
	MediaType string
	Reader    io.Reader
}

// Materialize extracts an ordered sequence of OCI layers onto destDir,
// applying whiteout and opaque-directory semantics between layers as
// specified by the OCI image layer filesystem changeset spec: each
// layer is unpacked in order, and a later layer's whiteout or opaque
// marker removes content contributed by earlier layers only.
//
// Layers is in bottom-to-top order: layers[0] is applied first.
func Materialize(ctx context.Context, layers []Layer, destDir string, validator pathValidator, limits core.ExtractLimits, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	state := &materializeState{
		limits:        limits,
		buf:           make([]byte, copyBufferSize),
		validatedDirs: make(map[string]struct{}),
		createdDirs:   make(map[string]struct{}),
		logger:        logger,
	}
	if info, err := os.Stat(destDir); err == nil && info.IsDir() {
		state.validatedDirs[destDir] = struct{}{}
		state.createdDirs[destDir] = struct{}{}
	}

	for i, layer := range layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		decompressed, err := decompressFor(layer.MediaType, layer.Reader)
		if err != nil {
			if errors.Is(err, core.ErrUnsupportedMediaType) {
				return fmt.Errorf("layer %d: %w", i, err)
			}
			return fmt.Errorf("layer %d: %w: %v", i, core.ErrInvalidArchive, err)
		}
		err = extractLayer(ctx, decompressed, destDir, validator, state)
		closeErr := decompressed.Close()
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if closeErr != nil {
			return fmt.Errorf("layer %d: close: %w", i, closeErr)
		}
	}

	return nil
}

// materializeState tracks extraction progress for limit enforcement and
// directory/symlink validation caching across the full multi-layer
// materialization.
type materializeState struct {
	limits        core.ExtractLimits
	fileCount     int
	totalSize     int64
	buf           []byte
	validatedDirs map[string]struct{}
	createdDirs   map[string]struct{}
	logger        *slog.Logger

	// createdByLayer records paths (relative to destDir) written by the
	// layer currently being extracted. Reset at the start of every
	// layer. An opaque marker removes only directory children absent
	// from this set, since those came from a strictly lower layer.
	createdByLayer map[string]struct{}

	// dirMtimes records the mtime a directory entry in the current
	// layer should end up with, keyed by its full path. Applied in a
	// second pass after the layer's entries are all extracted, since
	// writing files into a directory during extraction updates its
	// mtime and would otherwise clobber the value the archive recorded.
	dirMtimes map[string]time.Time
}

func extractLayer(ctx context.Context, r io.Reader, destDir string, validator pathValidator, state *materializeState) error {
	state.createdByLayer = make(map[string]struct{})
	state.dirMtimes = make(map[string]time.Time)

	tr := tar.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return applyDeferredDirMtimes(state)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidArchive, err)
		}

		if err := processEntry(ctx, destDir, header, tr, validator, state); err != nil {
			return err
		}
	}
}

// applyDeferredDirMtimes sets the mtime on every directory touched by
// the layer just extracted, now that all file/subdirectory writes that
// could have bumped those directories' mtimes are done.
func applyDeferredDirMtimes(state *materializeState) error {
	for path, mtime := range state.dirMtimes {
		if err := os.Chtimes(path, mtime, mtime); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("set directory mtime for %s: %w", path, err)
		}
	}
	return nil
}

// processEntry handles a single tar entry: whiteouts, opaque markers,
// directories, regular files, symlinks, and hardlinks. Device nodes,
// FIFOs, and sockets are rejected.
func processEntry(ctx context.Context, destDir string, header *tar.Header, tr *tar.Reader, validator pathValidator, state *materializeState) error {
	if err := validator.ValidatePath(header.Name); err != nil {
		return err
	}

	base := filepath.Base(header.Name)
	if strings.HasPrefix(base, whiteoutPrefix) {
		return processWhiteout(destDir, header.Name, base, state)
	}

	if header.Typeflag == tar.TypeReg {
		if err := checkLimits(header, state); err != nil {
			return err
		}
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return extractDir(destDir, header, state)
	case tar.TypeReg:
		return extractFile(ctx, destDir, header, tr, state)
	case tar.TypeSymlink:
		if err := validator.ValidateSymlink(destDir, header.Name, header.Linkname); err != nil {
			return err
		}
		return extractSymlink(destDir, header, state)
	case tar.TypeLink:
		if err := validator.ValidateHardlinkTarget(destDir, header.Name, header.Linkname); err != nil {
			return err
		}
		return extractHardlink(destDir, header, state)
	case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
		return fmt.Errorf("%w: %q for %s", core.ErrUnsupportedEntryType, header.Typeflag, header.Name)
	}
	return nil
}

// processWhiteout applies a .wh. entry: either an opaque-directory
// marker, which removes sibling-layer content already present under its
// parent directory, or a single-path whiteout, which removes exactly one
// inherited path. Either way, content written earlier by the SAME layer
// is left alone, since a layer cannot shadow itself.
func processWhiteout(destDir, name, base string, state *materializeState) error {
	dir := filepath.Join(destDir, filepath.Dir(name))

	if base == opaqueMarker {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			childRel := filepath.Join(filepath.Dir(name), e.Name())
			if _, createdThisLayer := state.createdByLayer[childRel]; createdThisLayer {
				continue
			}
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	targetRel := filepath.Join(filepath.Dir(name), strings.TrimPrefix(base, whiteoutPrefix))
	if _, createdThisLayer := state.createdByLayer[targetRel]; createdThisLayer {
		return nil
	}
	target := filepath.Join(dir, strings.TrimPrefix(base, whiteoutPrefix))
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	return nil
}

// checkLimits verifies extraction limits for a regular file.
func checkLimits(header *tar.Header, state *materializeState) error {
	if header.Size < 0 {
		return core.ErrExtractLimits
	}

	state.fileCount++
	if state.limits.MaxFiles > 0 && state.fileCount > state.limits.MaxFiles {
		return core.ErrExtractLimits
	}
	if state.limits.MaxFileSize > 0 && header.Size > state.limits.MaxFileSize {
		return core.ErrExtractLimits
	}

	if state.totalSize > math.MaxInt64-header.Size {
		return core.ErrExtractLimits
	}
	state.totalSize += header.Size
	if state.limits.MaxTotalSize > 0 && state.totalSize > state.limits.MaxTotalSize {
		return core.ErrExtractLimits
	}
	return nil
}

// extractDir creates a directory from a tar header.
//
//nolint:gosec // G305: path validated by caller via pathValidator
func extractDir(destDir string, header *tar.Header, state *materializeState) error {
	fullPath := filepath.Join(destDir, header.Name)
	if err := ensureParentDir(parentDir(fullPath), destDir, state); err != nil {
		return err
	}
	//nolint:gosec // G115: mode from trusted tar header, G301: dir perms from archive
	if err := mkdirAllCached(fullPath, fs.FileMode(header.Mode), state); err != nil {
		return err
	}
	markCreated(header.Name, state)
	state.dirMtimes[fullPath] = header.ModTime
	return applyOwnership(fullPath, header, state)
}

// extractFile extracts a regular file from a tar stream.
//
//nolint:gosec // G305: path validated by caller via pathValidator
func extractFile(ctx context.Context, destDir string, header *tar.Header, tr *tar.Reader, state *materializeState) error {
	fullPath := filepath.Join(destDir, header.Name)

	if err := ensureParentDir(parentDir(fullPath), destDir, state); err != nil {
		return err
	}

	// A later layer may legitimately replace a regular file a lower
	// layer created; O_EXCL would reject that, so remove any existing
	// non-directory entry first. Path validation above already ruled
	// out traversal; Lstat+Remove here only ever touches fullPath
	// itself, never a symlink target, so this does not reopen the
	// symlink-replacement race O_EXCL is meant to close.
	if info, err := os.Lstat(fullPath); err == nil && !info.IsDir() {
		if err := os.Remove(fullPath); err != nil {
			return err
		}
	}

	//nolint:gosec // G304: path validated by caller, G115: mode from tar header
	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fs.FileMode(header.Mode))
	if err != nil {
		return err
	}

	copyErr := copyWithContext(ctx, f, tr, state.buf)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}

	markCreated(header.Name, state)
	if err := applyOwnership(fullPath, header, state); err != nil {
		return err
	}
	if err := os.Chtimes(fullPath, header.ModTime, header.ModTime); err != nil {
		return fmt.Errorf("set mtime for %s: %w", header.Name, err)
	}
	return nil
}

// extractSymlink creates a symlink from a tar header.
//
//nolint:gosec // G305: path validated by caller via pathValidator
func extractSymlink(destDir string, header *tar.Header, state *materializeState) error {
	fullPath := filepath.Join(destDir, header.Name)
	if err := ensureParentDir(parentDir(fullPath), destDir, state); err != nil {
		return err
	}

	_ = os.RemoveAll(fullPath)

	tmpLink := fullPath + ".tmp"
	_ = os.Remove(tmpLink)

	if err := os.Symlink(header.Linkname, tmpLink); err != nil {
		return err
	}
	if err := os.Rename(tmpLink, fullPath); err != nil {
		_ = os.Remove(tmpLink)
		return err
	}

	markCreated(header.Name, state)
	if err := lchtimes(fullPath, header.ModTime); err != nil {
		return fmt.Errorf("set symlink mtime for %s: %w", header.Name, err)
	}
	return nil
}

// lchtimes sets a symlink's own mtime without following it. os.Chtimes
// operates on the symlink target, not the link itself, so this goes
// through unix.Lutimes instead.
func lchtimes(path string, mtime time.Time) error {
	tv := unix.NsecToTimeval(mtime.UnixNano())
	return unix.Lutimes(path, []unix.Timeval{tv, tv})
}

// extractHardlink links header.Name to the previously-extracted regular
// file named by header.Linkname (validated by the caller to stay within
// destDir).
//
//nolint:gosec // G305: path validated by caller via pathValidator
func extractHardlink(destDir string, header *tar.Header, state *materializeState) error {
	fullPath := filepath.Join(destDir, header.Name)
	targetPath := filepath.Join(destDir, header.Linkname)

	if err := ensureParentDir(parentDir(fullPath), destDir, state); err != nil {
		return err
	}

	_ = os.Remove(fullPath)
	if err := os.Link(targetPath, fullPath); err != nil {
		return fmt.Errorf("hardlink %s -> %s: %w", header.Name, header.Linkname, err)
	}

	markCreated(header.Name, state)
	return nil
}

func markCreated(name string, state *materializeState) {
	state.createdByLayer[filepath.Clean(name)] = struct{}{}
}

// applyOwnership chowns the extracted entry to the uid/gid recorded in
// the tar header. When the calling process lacks permission to apply
// that ownership (unprivileged extraction is the common case), it either
// falls back to the current process's ownership with a logged warning,
// or, under ExtractLimits.StrictOwnership, fails the extraction.
func applyOwnership(path string, header *tar.Header, state *materializeState) error {
	if err := os.Lchown(path, header.Uid, header.Gid); err != nil {
		if state.limits.StrictOwnership {
			return fmt.Errorf("chown %s to %d:%d: %w", path, header.Uid, header.Gid, err)
		}
		state.logger.Warn("could not apply layer ownership, leaving current owner",
			"path", header.Name, "uid", header.Uid, "gid", header.Gid, "error", err)
	}
	return nil
}

func ensureParentDir(parent, destDir string, state *materializeState) error {
	if isWithinOrEqual(parent, destDir) {
		if err := validateNotSymlinkCached(parent, state); err != nil {
			return err
		}
	}
	return mkdirAllCached(parent, 0o750, state)
}

// validateNotSymlink checks that a path is not a symlink.
// This is a best-effort TOCTOU check - not fully race-safe.
func validateNotSymlink(path string) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return core.ErrPathTraversal
	}
	return nil
}

func validateNotSymlinkCached(path string, state *materializeState) error {
	if _, ok := state.validatedDirs[path]; ok {
		return nil
	}
	if err := validateNotSymlink(path); err != nil {
		return err
	}
	state.validatedDirs[path] = struct{}{}
	return nil
}

func mkdirAllCached(path string, mode fs.FileMode, state *materializeState) error {
	if _, ok := state.createdDirs[path]; ok {
		return nil
	}
	if err := os.MkdirAll(path, mode); err != nil {
		return err
	}
	state.createdDirs[path] = struct{}{}
	state.validatedDirs[path] = struct{}{}
	return nil
}

// isWithinOrEqual reports whether path is lexically within or equal to dir.
func isWithinOrEqual(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// parentDir returns the parent directory of path. Unlike filepath.Dir,
// it never special-cases a volume name, since materialize only ever
// targets POSIX filesystems (a Landlock-sandboxed destination root
// implies a Linux target).
func parentDir(path string) string {
	idx := strings.LastIndexByte(path, os.PathSeparator)
	if idx == -1 {
		return "."
	}
	if idx == 0 {
		return string(os.PathSeparator)
	}
	return path[:idx]
}
