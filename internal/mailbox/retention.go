package mailbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type RetentionStrategy string

const (
	// StrategyDelete drops expired records outright.
	StrategyDelete RetentionStrategy = "delete"
	// StrategyArchive appends expired records to the team's archive file
	// before removing them from the mailbox.
	StrategyArchive RetentionStrategy = "archive"
)

// RetentionPolicy bounds mailbox growth. Zero values disable the
// corresponding limit.
type RetentionPolicy struct {
	MaxAge   time.Duration
	MaxCount int
	Strategy RetentionStrategy
}

type RetentionResult struct {
	Kept     int `json:"kept"`
	Removed  int `json:"removed"`
	Archived int `json:"archived"`
}

// ApplyRetention removes (or archives) records that exceed the policy's age
// or count limits, rewriting the mailbox through the same atomic machinery as
// any other mutation. Records with unparseable timestamps are never expired
// by age. With dryRun set it reports what would happen without writing.
func (s *Store) ApplyRetention(target Target, policy RetentionPolicy, dryRun bool) (RetentionResult, error) {
	if err := validateTarget(target); err != nil {
		return RetentionResult{}, err
	}
	if policy.MaxAge <= 0 && policy.MaxCount <= 0 {
		msgs, err := s.Read(target)
		if err != nil {
			return RetentionResult{}, err
		}
		return RetentionResult{Kept: len(msgs)}, nil
	}

	msgs, err := s.Read(target)
	if err != nil {
		return RetentionResult{}, err
	}
	keep, expired := splitByPolicy(msgs, policy, time.Now().UTC())
	result := RetentionResult{Kept: len(keep), Removed: len(expired)}
	if dryRun || len(expired) == 0 {
		if policy.Strategy == StrategyArchive {
			result.Archived = len(expired)
		}
		return result, nil
	}

	if policy.Strategy == StrategyArchive {
		if err := s.archive(target, expired); err != nil {
			return RetentionResult{}, err
		}
		result.Archived = len(expired)
	}

	// Remove exactly the records that were archived (or selected) above.
	// Anything that arrived since the read survives until the next sweep, so
	// a record is never dropped without having been archived first.
	drop := make(map[string]bool, len(expired))
	for _, m := range expired {
		drop[retentionKey(m)] = true
	}
	_, err = s.Update(target, func(current []Message) []Message {
		var kept []Message
		for _, m := range current {
			if !drop[retentionKey(m)] {
				kept = append(kept, m)
			}
		}
		return kept
	})
	if err != nil {
		return RetentionResult{}, err
	}
	return result, nil
}

func retentionKey(m Message) string {
	if m.MessageID != "" {
		return "id:" + m.MessageID
	}
	return "sig:" + m.signature()
}

// splitByPolicy partitions records into kept and expired, preserving order.
// Age expiry runs first, then the count cap removes the oldest survivors.
func splitByPolicy(msgs []Message, policy RetentionPolicy, now time.Time) (keep, expired []Message) {
	keep = append([]Message(nil), msgs...)
	if policy.MaxAge > 0 {
		cutoff := now.Add(-policy.MaxAge)
		var fresh []Message
		for _, m := range keep {
			ts, err := time.Parse(time.RFC3339, m.Timestamp)
			if err == nil && ts.Before(cutoff) {
				expired = append(expired, m)
				continue
			}
			fresh = append(fresh, m)
		}
		keep = fresh
	}
	if policy.MaxCount > 0 && len(keep) > policy.MaxCount {
		over := len(keep) - policy.MaxCount
		expired = append(expired, keep[:over]...)
		keep = keep[over:]
	}
	return keep, expired
}

// archive appends records to {root}/{team}/archive/{agent}.json. The archive
// is only ever written by retention, so temp-write plus rename is enough.
func (s *Store) archive(target Target, msgs []Message) error {
	dir := filepath.Join(s.root, target.Team, "archive")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, target.Agent+".json")

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	archived, err := DecodeMailbox(existing)
	if err != nil {
		s.logger.Printf("mailspool: warning: archive %s is malformed, starting fresh: %v", path, err)
		archived = nil
	}
	archived = append(archived, msgs...)

	data, err := EncodeMailbox(archived)
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
