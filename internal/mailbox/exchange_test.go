package mailbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExchangeFilesSwapsContents(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "agent.json")
	staged := filepath.Join(dir, "agent.tmp")

	if err := os.WriteFile(live, []byte("old"), 0o644); err != nil {
		t.Fatalf("write live: %v", err)
	}
	if err := os.WriteFile(staged, []byte("new"), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}

	if err := exchangeFiles(live, staged); err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	liveAfter, err := os.ReadFile(live)
	if err != nil {
		t.Fatalf("read live: %v", err)
	}
	stagedAfter, err := os.ReadFile(staged)
	if err != nil {
		t.Fatalf("read staged: %v", err)
	}
	if string(liveAfter) != "new" || string(stagedAfter) != "old" {
		t.Fatalf("contents not swapped: live=%q staged=%q", liveAfter, stagedAfter)
	}
}

func TestExchangeFilesMissingCounterpart(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "agent.json")
	if err := os.WriteFile(live, []byte("only"), 0o644); err != nil {
		t.Fatalf("write live: %v", err)
	}

	if err := exchangeFiles(live, filepath.Join(dir, "missing.tmp")); err == nil {
		t.Fatalf("expected error for missing staged file")
	}
}

func TestCreateExclusiveInstallsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "agent.json")
	staged := filepath.Join(dir, "agent.tmp")
	if err := os.WriteFile(staged, []byte("ours"), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}

	if err := createExclusive(live, staged); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	data, err := os.ReadFile(live)
	if err != nil {
		t.Fatalf("read live: %v", err)
	}
	if string(data) != "ours" {
		t.Fatalf("unexpected live content: %q", data)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("staged file not consumed: %v", err)
	}
}

func TestCreateExclusiveRefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	live := filepath.Join(dir, "agent.json")
	staged := filepath.Join(dir, "agent.tmp")
	if err := os.WriteFile(live, []byte("theirs"), 0o644); err != nil {
		t.Fatalf("write live: %v", err)
	}
	if err := os.WriteFile(staged, []byte("ours"), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}

	if err := createExclusive(live, staged); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected os.ErrExist, got %v", err)
	}
	data, err := os.ReadFile(live)
	if err != nil {
		t.Fatalf("read live: %v", err)
	}
	if string(data) != "theirs" {
		t.Fatalf("existing content clobbered: %q", data)
	}
}
