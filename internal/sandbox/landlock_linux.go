//go:build linux

package sandbox

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/oci/unpack/core"
)

// fullFsAccess is every filesystem access right Landlock ABI version 1
// defines. A ruleset built from this mask and restricted to a single
// path-beneath rule confines the process to read/write/create/unlink/
// rename operations under that path and denies all of them elsewhere.
const fullFsAccess = unix.LANDLOCK_ACCESS_FS_EXECUTE |
	unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
	unix.LANDLOCK_ACCESS_FS_READ_FILE |
	unix.LANDLOCK_ACCESS_FS_READ_DIR |
	unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
	unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
	unix.LANDLOCK_ACCESS_FS_MAKE_CHAR |
	unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
	unix.LANDLOCK_ACCESS_FS_MAKE_REG |
	unix.LANDLOCK_ACCESS_FS_MAKE_SOCK |
	unix.LANDLOCK_ACCESS_FS_MAKE_FIFO |
	unix.LANDLOCK_ACCESS_FS_MAKE_BLOCK |
	unix.LANDLOCK_ACCESS_FS_MAKE_SYM

type landlockSandbox struct {
	restricted bool
}

func newPlatformSandbox() Sandbox {
	return &landlockSandbox{}
}

// RestrictTo installs a Landlock ruleset scoped to root and then calls
// landlock_restrict_self, a one-way transition for this thread's
// process: there is no syscall to widen it back. Callers on a kernel
// without Landlock (pre-5.13), or one where the ABI handshake fails,
// get core.ErrSandboxUnavailable, and by policy the caller decides
// whether to proceed unsandboxed.
func (s *landlockSandbox) RestrictTo(root string) error {
	if s.restricted {
		return fmt.Errorf("%w: sandbox already installed", core.ErrSandboxUnavailable)
	}

	abi, err := unix.LandlockGetABIVersion()
	if err != nil || abi < 1 {
		return fmt.Errorf("%w: landlock unavailable: %v", core.ErrSandboxUnavailable, err)
	}

	rulesetAttr := &unix.LandlockRulesetAttr{AccessFs: fullFsAccess}
	rulesetFd, err := unix.LandlockCreateRuleset(rulesetAttr, 0)
	if err != nil {
		return fmt.Errorf("%w: create ruleset: %v", core.ErrSandboxUnavailable, err)
	}
	defer unix.Close(rulesetFd)

	rootFile, err := os.Open(root)
	if err != nil {
		return fmt.Errorf("open sandbox root: %w", err)
	}
	defer rootFile.Close()

	pathBeneath := &unix.LandlockPathBeneathAttr{
		AllowedAccess: fullFsAccess,
		ParentFd:      int32(rootFile.Fd()),
	}
	if err := unix.LandlockAddPathBeneathRule(rulesetFd, pathBeneath, 0); err != nil {
		return fmt.Errorf("%w: add rule: %v", core.ErrSandboxUnavailable, err)
	}

	// Landlock refuses landlock_restrict_self for a thread that could
	// still gain privileges via a setuid exec; no_new_privs closes that.
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("%w: set no_new_privs: %v", core.ErrSandboxUnavailable, err)
	}

	if err := unix.LandlockRestrictSelf(rulesetFd, 0); err != nil {
		return fmt.Errorf("%w: restrict self: %v", core.ErrSandboxUnavailable, err)
	}

	s.restricted = true
	return nil
}
