package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SpoolEntry is one persisted record awaiting delivery. Retry state lives on
// the entry itself so a drain pass never depends on in-process timers.
type SpoolEntry struct {
	TargetTeam  string  `json:"targetTeam"`
	TargetAgent string  `json:"targetAgent"`
	Message     Message `json:"message"`
	RetryCount  int     `json:"retryCount"`
	MaxRetries  int     `json:"maxRetries"`
	CreatedAt   string  `json:"createdAt"`
	LastAttempt string  `json:"lastAttempt"`
}

func (e SpoolEntry) target() Target {
	return Target{Team: e.TargetTeam, Agent: e.TargetAgent}
}

// DrainReport summarizes one pass over the pending queue.
type DrainReport struct {
	Delivered     int `json:"delivered"`
	StillPending  int `json:"stillPending"`
	MovedToFailed int `json:"movedToFailed"`
}

// spool is the durable on-disk queue backing deferred deliveries. Entries in
// pending/ are retried by Drain; entries in failed/ are kept for the operator
// and never reprocessed.
type spool struct {
	dir        string
	maxRetries int
}

func newSpool(dir string, maxRetries int) *spool {
	return &spool{dir: dir, maxRetries: maxRetries}
}

func (sp *spool) pendingDir() string { return filepath.Join(sp.dir, "pending") }
func (sp *spool) failedDir() string  { return filepath.Join(sp.dir, "failed") }

// enqueue persists one record for later delivery and returns the name of the
// created spool file.
func (sp *spool) enqueue(target Target, msg Message) (string, error) {
	if err := os.MkdirAll(sp.pendingDir(), 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", sp.pendingDir(), err)
	}
	now := time.Now().UTC()
	entry := SpoolEntry{
		TargetTeam:  target.Team,
		TargetAgent: target.Agent,
		Message:     msg,
		RetryCount:  0,
		MaxRetries:  sp.maxRetries,
		CreatedAt:   now.Format(time.RFC3339),
		LastAttempt: now.Format(time.RFC3339),
	}
	name := fmt.Sprintf("%d-%s@%s-%s.json", now.Unix(), target.Agent, target.Team, uuid.NewString()[:8])
	if err := writeEntry(filepath.Join(sp.pendingDir(), name), entry); err != nil {
		return "", err
	}
	return name, nil
}

// Drain replays every pending spool entry through the delivery path.
// Delivered entries are removed. Entries that hit lock contention or a
// transient I/O failure are kept with retry_count incremented in place; once
// an entry's retry count reaches its ceiling it is relocated to failed/
// exactly once and never retried again.
func (s *Store) Drain() (DrainReport, error) {
	sp := s.spool
	if err := os.MkdirAll(sp.pendingDir(), 0o755); err != nil {
		return DrainReport{}, fmt.Errorf("create %s: %w", sp.pendingDir(), err)
	}
	if err := os.MkdirAll(sp.failedDir(), 0o755); err != nil {
		return DrainReport{}, fmt.Errorf("create %s: %w", sp.failedDir(), err)
	}

	names, err := listEntryNames(sp.pendingDir())
	if err != nil {
		return DrainReport{}, err
	}

	var report DrainReport
	for _, name := range names {
		path := filepath.Join(sp.pendingDir(), name)
		entry, err := readEntry(path)
		if err != nil {
			// Leave the file alone; the operator may be able to repair it.
			s.logger.Printf("mailspool: warning: skipping unreadable spool entry %s: %v", path, err)
			continue
		}

		_, deliverErr := s.deliver(entry.target(), entry.Message)
		if deliverErr == nil {
			if err := os.Remove(path); err != nil {
				s.logger.Printf("mailspool: warning: delivered but could not remove spool entry %s: %v", path, err)
			}
			report.Delivered++
			continue
		}

		entry.RetryCount++
		entry.LastAttempt = time.Now().UTC().Format(time.RFC3339)

		max := entry.MaxRetries
		if max <= 0 {
			max = sp.maxRetries
		}
		if entry.RetryCount >= max {
			failedPath := filepath.Join(sp.failedDir(), name)
			if err := writeEntry(failedPath, entry); err != nil {
				s.logger.Printf("mailspool: warning: could not fail spool entry %s: %v", path, err)
				continue
			}
			if err := os.Remove(path); err != nil {
				s.logger.Printf("mailspool: warning: could not remove exhausted spool entry %s: %v", path, err)
			}
			s.logger.Printf("mailspool: %v for %s after %d attempts, moved to %s",
				ErrSpoolExhausted, entry.target(), entry.RetryCount, failedPath)
			report.MovedToFailed++
			continue
		}

		if err := writeEntry(path, entry); err != nil {
			s.logger.Printf("mailspool: warning: could not update spool entry %s: %v", path, err)
		}
	}

	pending, err := countEntries(sp.pendingDir())
	if err != nil {
		return report, err
	}
	report.StillPending = pending
	return report, nil
}

// SpoolStatus reports the queue sizes without draining.
func (s *Store) SpoolStatus() (pending, failed int, err error) {
	pending, err = countEntries(s.spool.pendingDir())
	if err != nil {
		return 0, 0, err
	}
	failed, err = countEntries(s.spool.failedDir())
	if err != nil {
		return 0, 0, err
	}
	return pending, failed, nil
}

// PendingEntries returns the pending queue's contents, oldest first.
func (s *Store) PendingEntries() ([]SpoolEntry, error) {
	return listEntries(s.spool.pendingDir())
}

// FailedEntries returns the permanently failed entries.
func (s *Store) FailedEntries() ([]SpoolEntry, error) {
	return listEntries(s.spool.failedDir())
}

func listEntryNames(dir string) ([]string, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			continue
		}
		names = append(names, d.Name())
	}
	// Names start with the enqueue timestamp, so this is oldest-first.
	sort.Strings(names)
	return names, nil
}

func listEntries(dir string) ([]SpoolEntry, error) {
	names, err := listEntryNames(dir)
	if err != nil {
		return nil, err
	}
	var entries []SpoolEntry
	for _, name := range names {
		entry, err := readEntry(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func countEntries(dir string) (int, error) {
	names, err := listEntryNames(dir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func readEntry(path string) (SpoolEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SpoolEntry{}, fmt.Errorf("read %s: %w", path, err)
	}
	var entry SpoolEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return SpoolEntry{}, &DecodeError{Path: path, Err: err}
	}
	return entry, nil
}

func writeEntry(path string, entry SpoolEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
