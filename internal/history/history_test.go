package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state", "history.db")
	if _, err := Open(path); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecordAndRecent(t *testing.T) {
	journal, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	journal.now = func() time.Time { return stamp }

	ctx := context.Background()
	events := []Entry{
		{Kind: KindExecution, RunID: "run_1", Language: "python", Backend: "sandbox", Succeeded: true, Detail: "ok"},
		{Kind: KindServerStart, PID: "p1", Name: "demo", Language: "python", Backend: "sandbox", Succeeded: true},
		{Kind: KindServerReaped, PID: "p1", Name: "demo", Backend: "sandbox", Succeeded: true, Detail: "age limit"},
	}
	for _, entry := range events {
		if err := journal.Record(ctx, entry); err != nil {
			t.Fatalf("Record(%s) returned error: %v", entry.Kind, err)
		}
	}

	entries, err := journal.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Kind != KindServerReaped || entries[2].Kind != KindExecution {
		t.Fatalf("unexpected ordering: %s .. %s", entries[0].Kind, entries[2].Kind)
	}
	if entries[2].RunID != "run_1" || !entries[2].Succeeded {
		t.Fatalf("unexpected execution entry: %+v", entries[2])
	}
	if !entries[0].RecordedAt.Equal(stamp) {
		t.Fatalf("expected journal-stamped time %v, got %v", stamp, entries[0].RecordedAt)
	}
}

func TestRecentAppliesLimit(t *testing.T) {
	journal, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := journal.Record(ctx, Entry{Kind: KindExecution, RunID: "run", Backend: "piston"}); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	entries, err := journal.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}
