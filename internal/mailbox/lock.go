package mailbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// lockHandle is a held per-mailbox advisory lock. Release is safe to call
// from a defer on every exit path.
type lockHandle struct {
	fl *flock.Flock
}

func (h *lockHandle) Release() {
	_ = h.fl.Unlock()
}

// lockPath derives the sibling lock file for a mailbox path, e.g.
// agent.json -> agent.lock.
func lockPath(mailboxPath string) string {
	return strings.TrimSuffix(mailboxPath, filepath.Ext(mailboxPath)) + ".lock"
}

// tryLock attempts a non-blocking exclusive lock on the mailbox. It returns
// ErrLockBusy when another holder has it; it never sleeps. The lock is
// advisory only: it coordinates our own tooling but cannot constrain a
// writer that does not take it, which is what the hash-based conflict
// detection in the store exists to catch.
func tryLock(mailboxPath string) (*lockHandle, error) {
	fl := flock.New(lockPath(mailboxPath))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, ErrLockBusy
	}
	return &lockHandle{fl: fl}, nil
}
