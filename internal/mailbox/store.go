package mailbox

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger is the minimal logging surface the engine needs. *log.Logger
// satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// Target identifies one mailbox. The engine treats it as an opaque key; the
// resolver maps it to a file on disk.
type Target struct {
	Team  string `json:"team"`
	Agent string `json:"agent"`
}

func (t Target) String() string {
	return t.Agent + "@" + t.Team
}

// PathResolver maps a mailbox key to the file holding it.
type PathResolver func(root string, target Target) string

// DefaultResolver lays mailboxes out as {root}/{team}/inboxes/{agent}.json.
func DefaultResolver(root string, target Target) string {
	return filepath.Join(root, target.Team, "inboxes", target.Agent+".json")
}

// DefaultLockBackoff is the inline retry schedule used by foreground callers
// before a contended write is handed to the spool.
func DefaultLockBackoff() []time.Duration {
	return []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
}

const defaultMaxRetries = 10

type StoreOptions struct {
	// Root is the base directory holding per-team mailbox trees.
	Root string

	// SpoolDir holds the pending/ and failed/ queues. Defaults to
	// {Root}/spool.
	SpoolDir string

	// LockBackoff is the inline wait schedule applied after the first failed
	// lock attempt. A nil or empty schedule means contended writes go
	// straight to the spool, which is the policy a background host wants.
	LockBackoff []time.Duration

	// MaxRetries is the delivery attempt ceiling for spooled entries before
	// they are moved to the failed queue. Defaults to 10.
	MaxRetries int

	Resolver PathResolver
	Logger   Logger
}

// Store is the mailbox storage engine: it is the sole mutator of mailbox
// files on behalf of this tooling and owns the outbound spool.
type Store struct {
	root     string
	resolver PathResolver
	backoff  []time.Duration
	spool    *spool
	logger   Logger
}

// NewStore builds a store with foreground defaults: inline lock retries with
// the standard backoff schedule.
func NewStore(root string) *Store {
	return NewStoreWithOptions(StoreOptions{
		Root:        root,
		LockBackoff: DefaultLockBackoff(),
	})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = DefaultResolver
	}
	spoolDir := strings.TrimSpace(opts.SpoolDir)
	if spoolDir == "" {
		spoolDir = filepath.Join(opts.Root, "spool")
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Store{
		root:     opts.Root,
		resolver: resolver,
		backoff:  opts.LockBackoff,
		spool:    newSpool(spoolDir, maxRetries),
		logger:   logger,
	}
}

type WriteStatus string

const (
	// StatusDelivered means the write landed with no interference.
	StatusDelivered WriteStatus = "delivered"
	// StatusMerged means a racing external write was detected and folded in.
	StatusMerged WriteStatus = "merged"
	// StatusQueued means the write could not complete and the record is in
	// the spool awaiting a drain.
	StatusQueued WriteStatus = "queued"
)

type WriteOutcome struct {
	Status      WriteStatus `json:"status"`
	MergedCount int         `json:"mergedCount,omitempty"`
	SpoolRef    string      `json:"spoolRef,omitempty"`
}

// Append delivers one record to the target mailbox. Lock contention past the
// configured backoff, and any I/O failure, divert the record to the spool so
// it is never dropped; the outcome then reports StatusQueued with the spool
// reference.
func (s *Store) Append(target Target, msg Message) (WriteOutcome, error) {
	if err := validateTarget(target); err != nil {
		return WriteOutcome{}, err
	}
	outcome, err := s.deliver(target, msg)
	if err == nil {
		return outcome, nil
	}
	ref, spoolErr := s.spool.enqueue(target, msg)
	if spoolErr != nil {
		return WriteOutcome{}, errors.Join(err, spoolErr)
	}
	s.logger.Printf("mailspool: delivery to %s deferred (%v), spooled as %s", target, err, ref)
	return WriteOutcome{Status: StatusQueued, SpoolRef: ref}, nil
}

// MutateFunc rewrites a mailbox's records in memory. It may modify records in
// place and/or return a different slice.
type MutateFunc func(msgs []Message) []Message

// Update applies an arbitrary mutation to the target mailbox through the same
// atomic machinery as Append. Mutations cannot be spooled, so lock contention
// surfaces as ErrLockBusy for the caller to retry.
func (s *Store) Update(target Target, mutate MutateFunc) (WriteOutcome, error) {
	if err := validateTarget(target); err != nil {
		return WriteOutcome{}, err
	}
	return s.exchangeWrite(target, func(msgs []Message) ([]Message, bool) {
		return mutate(msgs), true
	})
}

// MarkRead flips the read flag on the given message IDs, or on every record
// when no IDs are supplied.
func (s *Store) MarkRead(target Target, ids ...string) (WriteOutcome, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return s.Update(target, func(msgs []Message) []Message {
		for i := range msgs {
			if len(want) == 0 || want[msgs[i].MessageID] {
				msgs[i].Read = true
			}
		}
		return msgs
	})
}

// Read returns the target mailbox's records. A missing mailbox reads as
// empty; malformed content is reported as a DecodeError.
func (s *Store) Read(target Target) ([]Message, error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	path := s.resolver(s.root, target)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	msgs, err := DecodeMailbox(data)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return msgs, nil
}

// Unread returns only the records not yet marked read.
func (s *Store) Unread(target Target) ([]Message, error) {
	msgs, err := s.Read(target)
	if err != nil {
		return nil, err
	}
	var unread []Message
	for _, m := range msgs {
		if !m.Read {
			unread = append(unread, m)
		}
	}
	return unread, nil
}

// Targets enumerates every mailbox currently present under the store root.
func (s *Store) Targets() ([]Target, error) {
	teams, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}
	var targets []Target
	for _, team := range teams {
		if !team.IsDir() {
			continue
		}
		inboxDir := filepath.Join(s.root, team.Name(), "inboxes")
		inboxes, err := os.ReadDir(inboxDir)
		if err != nil {
			continue
		}
		for _, inbox := range inboxes {
			name := inbox.Name()
			if inbox.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			targets = append(targets, Target{
				Team:  team.Name(),
				Agent: strings.TrimSuffix(name, ".json"),
			})
		}
	}
	return targets, nil
}

// MailboxPath exposes the resolved file for a target, for callers that need
// to report or validate it.
func (s *Store) MailboxPath(target Target) string {
	return s.resolver(s.root, target)
}

// deliver runs one append attempt to completion, deduplicating on message_id
// against the mailbox's current content. Unlike Append it never spools: lock
// contention and I/O failures come back as errors for the caller's policy to
// convert.
func (s *Store) deliver(target Target, msg Message) (WriteOutcome, error) {
	return s.exchangeWrite(target, func(msgs []Message) ([]Message, bool) {
		if msg.MessageID != "" {
			for _, existing := range msgs {
				if existing.MessageID == msg.MessageID {
					return msgs, false
				}
			}
		}
		return append(msgs, msg), true
	})
}

// exchangeWrite is the read-modify-atomically-exchange cycle shared by every
// mutation:
//
//  1. take the per-mailbox lock (with the store's inline backoff schedule)
//  2. read the live content and remember its hash
//  3. apply the mutation in memory
//  4. stage the new content with a durable flush
//  5. atomically exchange staging and live
//  6. hash what the exchange displaced; a mismatch with the hash from step 2
//     means an external writer raced us, so its unseen records are merged in
//     and the exchange repeats until stable
//
// Any I/O failure aborts without touching the live mailbox.
func (s *Store) exchangeWrite(target Target, apply func([]Message) ([]Message, bool)) (WriteOutcome, error) {
	path := s.resolver(s.root, target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriteOutcome{}, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	handle, err := s.acquire(path)
	if err != nil {
		return WriteOutcome{}, err
	}
	defer handle.Release()

	raw, err := os.ReadFile(path)
	exists := true
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return WriteOutcome{}, fmt.Errorf("read %s: %w", path, err)
		}
		exists = false
		raw = []byte("[]")
	}
	liveHash := contentHash(raw)

	msgs, err := DecodeMailbox(raw)
	if err != nil {
		// Refusing to ever write again would be worse than a clean rewrite.
		s.logger.Printf("mailspool: warning: mailbox %s is malformed, treating as empty: %v", path, err)
		msgs = nil
	}

	next, changed := apply(msgs)
	if !changed {
		return WriteOutcome{Status: StatusDelivered}, nil
	}

	staged := stagingPath(path)
	defer os.Remove(staged)
	stagedBytes, err := EncodeMailbox(next)
	if err != nil {
		return WriteOutcome{}, fmt.Errorf("encode %s: %w", path, err)
	}
	if err := writeStagedBytes(staged, stagedBytes); err != nil {
		return WriteOutcome{}, err
	}

	if !exists {
		err := createExclusive(path, staged)
		if err == nil {
			return WriteOutcome{Status: StatusDelivered}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return WriteOutcome{}, err
		}
		// An external writer created the mailbox after our read. liveHash
		// still reflects the empty content we started from, so the exchange
		// below sees the new file as a race and merges it instead of
		// clobbering it.
	}

	merged := 0
	for {
		if err := exchangeFiles(path, staged); err != nil {
			return WriteOutcome{}, err
		}
		displaced, err := os.ReadFile(staged)
		if err != nil {
			return WriteOutcome{}, fmt.Errorf("read displaced %s: %w", staged, err)
		}
		if contentHash(displaced) == liveHash {
			break
		}

		// An external writer replaced the mailbox between our read and the
		// exchange. Fold in whatever it wrote that we have not seen.
		theirs, derr := DecodeMailbox(displaced)
		if derr != nil {
			s.logger.Printf("mailspool: warning: discarding unparseable concurrent write to %s: %v", path, derr)
			break
		}
		combined, added := mergeMessages(next, theirs)
		if added == 0 {
			break
		}
		next = combined
		merged += added

		// The next exchange should displace exactly the bytes this one just
		// installed; anything else is another race to merge.
		liveHash = contentHash(stagedBytes)
		stagedBytes, err = EncodeMailbox(next)
		if err != nil {
			return WriteOutcome{}, fmt.Errorf("encode %s: %w", path, err)
		}
		if err := writeStagedBytes(staged, stagedBytes); err != nil {
			return WriteOutcome{}, err
		}
	}

	if merged > 0 {
		return WriteOutcome{Status: StatusMerged, MergedCount: merged}, nil
	}
	return WriteOutcome{Status: StatusDelivered}, nil
}

// acquire takes the mailbox lock, waiting out the store's backoff schedule
// between attempts before reporting ErrLockBusy.
func (s *Store) acquire(path string) (*lockHandle, error) {
	handle, err := tryLock(path)
	if err == nil || !errors.Is(err, ErrLockBusy) {
		return handle, err
	}
	for _, wait := range s.backoff {
		time.Sleep(wait)
		handle, err = tryLock(path)
		if err == nil || !errors.Is(err, ErrLockBusy) {
			return handle, err
		}
	}
	return nil, ErrLockBusy
}

// mergeMessages folds records from a displaced external write into ours,
// skipping anything already present by message_id (or by content signature
// when the record carries none), and returns the combined set in
// chronological order together with the number of records adopted.
func mergeMessages(ours, theirs []Message) ([]Message, int) {
	ids := make(map[string]bool, len(ours))
	sigs := make(map[string]bool, len(ours))
	for _, m := range ours {
		if m.MessageID != "" {
			ids[m.MessageID] = true
		} else {
			sigs[m.signature()] = true
		}
	}

	merged := append([]Message(nil), ours...)
	added := 0
	for _, m := range theirs {
		if m.MessageID != "" {
			if ids[m.MessageID] {
				continue
			}
			ids[m.MessageID] = true
		} else {
			if sigs[m.signature()] {
				continue
			}
			sigs[m.signature()] = true
		}
		merged = append(merged, m)
		added++
	}
	sortMessages(merged)
	return merged, added
}

func validateTarget(target Target) error {
	for _, part := range []string{target.Team, target.Agent} {
		if strings.TrimSpace(part) == "" {
			return ErrInvalidInput
		}
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return ErrInvalidInput
		}
	}
	return nil
}

func stagingPath(mailboxPath string) string {
	return strings.TrimSuffix(mailboxPath, filepath.Ext(mailboxPath)) + ".tmp"
}

// writeStagedBytes writes and durably flushes the staging file so the
// exchange never installs content that could vanish on power loss.
func writeStagedBytes(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
