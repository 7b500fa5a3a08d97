//go:build !linux && !darwin

package mailbox

import (
	"errors"
	"fmt"
	"os"
)

// exchangeFiles swaps the contents of the live mailbox and the staged
// replacement on platforms without a native two-file exchange syscall. The
// three renames are individually atomic but the sequence is not; the caller's
// post-exchange hash check covers the window.
func exchangeFiles(live, staged string) error {
	parked := live + ".swap"
	if err := os.Rename(live, parked); err != nil {
		return fmt.Errorf("exchange %s with %s: %w", live, staged, err)
	}
	if err := os.Rename(staged, live); err != nil {
		// Put the live file back before reporting.
		_ = os.Rename(parked, live)
		return fmt.Errorf("exchange %s with %s: %w", live, staged, err)
	}
	if err := os.Rename(parked, staged); err != nil {
		return fmt.Errorf("exchange %s with %s: %w", live, staged, err)
	}
	return nil
}

// createExclusive installs the staged file at the live path only if nothing
// exists there yet, reporting os.ErrExist otherwise. Without a no-replace
// rename syscall the stat-then-rename pair is not atomic; the caller's
// exchange/merge loop is the backstop for the remaining window.
func createExclusive(live, staged string) error {
	if _, err := os.Stat(live); err == nil {
		return fmt.Errorf("create %s: %w", live, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("create %s: %w", live, err)
	}
	if err := os.Rename(staged, live); err != nil {
		return fmt.Errorf("create %s: %w", live, err)
	}
	return nil
}
