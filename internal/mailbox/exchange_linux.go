//go:build linux

package mailbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// exchangeFiles atomically swaps the contents of the live mailbox and the
// staged replacement. After it returns, live holds the staged content and
// staged holds whatever was live at the instant of the exchange. Uses
// renameat2 with RENAME_EXCHANGE (kernel 3.15+).
func exchangeFiles(live, staged string) error {
	if err := unix.Renameat2(unix.AT_FDCWD, staged, unix.AT_FDCWD, live, unix.RENAME_EXCHANGE); err != nil {
		return fmt.Errorf("exchange %s with %s: %w", live, staged, err)
	}
	return nil
}

// createExclusive installs the staged file at the live path only if nothing
// exists there yet. A mailbox created concurrently by another writer makes
// this fail with os.ErrExist instead of being clobbered. Uses renameat2 with
// RENAME_NOREPLACE.
func createExclusive(live, staged string) error {
	if err := unix.Renameat2(unix.AT_FDCWD, staged, unix.AT_FDCWD, live, unix.RENAME_NOREPLACE); err != nil {
		return fmt.Errorf("create %s: %w", live, err)
	}
	return nil
}
