//go:build !linux

package sandbox

import "github.com/oci/unpack/core"

type unsupportedSandbox struct{}

func newPlatformSandbox() Sandbox {
	return &unsupportedSandbox{}
}

// RestrictTo always fails: Landlock is a Linux-only kernel LSM, so on
// every other platform there is no enforcement primitive to install.
func (s *unsupportedSandbox) RestrictTo(root string) error {
	return core.ErrSandboxUnavailable
}
