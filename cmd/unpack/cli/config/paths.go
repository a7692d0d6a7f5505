// Package config provides configuration management for the unpack CLI.
package config

import (
	"os"
	"path/filepath"
)

// CacheDir returns the unpack cache directory.
// Uses $OCI_CACHE_DIR when set, otherwise XDG_CACHE_HOME/unpack,
// defaulting to ~/.cache/unpack.
func CacheDir() (string, error) {
	if dir := os.Getenv("OCI_CACHE_DIR"); dir != "" {
		return dir, nil
	}
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "unpack"), nil
}

// Dir returns the unpack config directory.
// Uses XDG_CONFIG_HOME/unpack, defaulting to ~/.config/unpack.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "unpack"), nil
}
