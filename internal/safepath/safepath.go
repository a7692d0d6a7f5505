// Package safepath provides path validation for secure layer extraction.
//
// This package performs lexical validation only. The extraction code must use
// safe filesystem primitives (such as O_EXCL and symlink-then-rename) to
// prevent TOCTOU races during actual file creation.
package safepath

import (
	"path/filepath"
	"strings"

	"github.com/oci/unpack/core"
)

// Validator validates tar entry paths and link targets before they are
// materialized onto the filesystem.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePath checks if a path is safe (no traversal, valid characters, no volume names).
func (v *Validator) ValidatePath(path string) error {
	if containsNull(path) {
		return core.ErrPathTraversal
	}
	if hasVolumeName(path) {
		return core.ErrPathTraversal
	}
	if isAbsolute(path) {
		return core.ErrPathTraversal
	}
	if containsTraversal(path) {
		return core.ErrPathTraversal
	}
	return nil
}

// ValidateSymlink checks if a symlink target is safe (stays within destDir).
//
// For absolute symlink targets, this function treats them as relative to destDir
// (chroot-like behavior). For example, a symlink pointing to "/etc/passwd" inside
// destDir="/tmp/extract" would resolve to "/tmp/extract/etc/passwd".
//
// Absolute targets with volume names or UNC paths (Windows) are rejected.
//
// This performs lexical validation only - it does not follow existing symlinks
// on the filesystem.
func (v *Validator) ValidateSymlink(destDir, linkPath, target string) error {
	if err := v.ValidatePath(linkPath); err != nil {
		return err
	}
	if containsNull(target) {
		return core.ErrPathTraversal
	}

	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return core.ErrPathTraversal
	}

	targetPath, err := resolveChrootTarget(absDestDir, linkPath, target)
	if err != nil {
		return err
	}

	if !isWithinDir(targetPath, absDestDir) {
		return core.ErrPathTraversal
	}
	return nil
}

// ValidateHardlinkTarget checks that a hard link's target stays within
// destDir. Unlike symlinks, a tar hard link's Linkname is always relative
// to the archive root (never chroot-rewritten by the kernel at read
// time), so this mirrors ValidateSymlink's containment check without its
// absolute-target rewriting.
func (v *Validator) ValidateHardlinkTarget(destDir, linkPath, target string) error {
	if err := v.ValidatePath(linkPath); err != nil {
		return err
	}
	if err := v.ValidatePath(target); err != nil {
		return err
	}

	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return core.ErrPathTraversal
	}

	targetPath := filepath.Clean(filepath.Join(absDestDir, target))
	if !isWithinDir(targetPath, absDestDir) {
		return core.ErrPathTraversal
	}
	return nil
}

// resolveChrootTarget computes the filesystem path a symlink target
// resolves to, treating absolute targets as rooted at absDestDir.
func resolveChrootTarget(absDestDir, linkPath, target string) (string, error) {
	var targetPath string
	if filepath.IsAbs(target) {
		if hasVolumeName(target) {
			return "", core.ErrPathTraversal
		}
		relTarget := strings.TrimLeft(target, "/\\")
		targetPath = filepath.Join(absDestDir, relTarget)
	} else {
		linkDir := filepath.Dir(filepath.Join(absDestDir, linkPath))
		targetPath = filepath.Join(linkDir, target)
	}
	return filepath.Clean(targetPath), nil
}

// isWithinDir checks if path is lexically within or equal to dir.
func isWithinDir(path, dir string) bool {
	if path == dir {
		return true
	}
	// Special case: if dir is root ("/"), any absolute path is within it.
	if dir == "/" || dir == string(filepath.Separator) {
		return filepath.IsAbs(path)
	}
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func containsNull(path string) bool {
	return strings.ContainsRune(path, '\x00')
}

func containsTraversal(path string) bool {
	// Normalize both forward and backslash separators to detect traversal
	// in mixed-separator archives (common in Windows-created archives).
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func isAbsolute(path string) bool {
	return filepath.IsAbs(path)
}

func hasVolumeName(path string) bool {
	return filepath.VolumeName(path) != ""
}
