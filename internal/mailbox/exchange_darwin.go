//go:build darwin

package mailbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// exchangeFiles atomically swaps the contents of the live mailbox and the
// staged replacement using renamex_np with RENAME_SWAP (macOS 10.12+).
func exchangeFiles(live, staged string) error {
	if err := unix.RenamexNp(staged, live, unix.RENAME_SWAP); err != nil {
		return fmt.Errorf("exchange %s with %s: %w", live, staged, err)
	}
	return nil
}

// createExclusive installs the staged file at the live path only if nothing
// exists there yet. A mailbox created concurrently by another writer makes
// this fail with os.ErrExist instead of being clobbered. Uses renamex_np with
// RENAME_EXCL.
func createExclusive(live, staged string) error {
	if err := unix.RenamexNp(staged, live, unix.RENAME_EXCL); err != nil {
		return fmt.Errorf("create %s: %w", live, err)
	}
	return nil
}
