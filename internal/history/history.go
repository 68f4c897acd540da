// Package history keeps a local journal of executions and server lifecycle
// events in a sqlite database, so past activity survives the session.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded in the journal.
const (
	KindExecution     = "execution"
	KindServerStart   = "server_start"
	KindServerStop    = "server_stop"
	KindServerReaped  = "server_auto_stop"
	defaultRecentRows = 50
)

type Journal struct {
	mu     sync.Mutex
	dbPath string
	now    func() time.Time
}

// Entry is one journal row, newest first on reads.
type Entry struct {
	ID         int64
	Kind       string
	RunID      string
	PID        string
	Name       string
	Language   string
	Backend    string
	Succeeded  bool
	Detail     string
	RecordedAt time.Time
}

// Open initialises the journal at path, creating parent directories and the
// schema as needed.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	j := &Journal{dbPath: path, now: time.Now}
	if err := j.initDB(context.Background()); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) initDB(ctx context.Context) error {
	db, err := sql.Open("sqlite", j.dbPath)
	if err != nil {
		return fmt.Errorf("open history database %q: %w", j.dbPath, err)
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			run_id TEXT NOT NULL,
			pid TEXT NOT NULL,
			name TEXT NOT NULL,
			language TEXT NOT NULL,
			backend TEXT NOT NULL,
			succeeded INTEGER NOT NULL,
			detail TEXT NOT NULL,
			recorded_at_unix INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`)
	if err != nil {
		return fmt.Errorf("initialise history schema: %w", err)
	}
	return nil
}

// Record appends one entry. RecordedAt is stamped by the journal.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	db, err := sql.Open("sqlite", j.dbPath)
	if err != nil {
		return fmt.Errorf("open history database %q: %w", j.dbPath, err)
	}
	defer db.Close()

	succeeded := 0
	if entry.Succeeded {
		succeeded = 1
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO events (kind, run_id, pid, name, language, backend, succeeded, detail, recorded_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Kind, entry.RunID, entry.PID, entry.Name, entry.Language, entry.Backend, succeeded, entry.Detail, j.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("record history event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentRows
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	db, err := sql.Open("sqlite", j.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database %q: %w", j.dbPath, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, run_id, pid, name, language, backend, succeeded, detail, recorded_at_unix
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var succeeded int
		var recordedAt int64
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.RunID, &entry.PID, &entry.Name,
			&entry.Language, &entry.Backend, &succeeded, &entry.Detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		entry.Succeeded = succeeded != 0
		entry.RecordedAt = time.Unix(recordedAt, 0).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history events: %w", err)
	}
	return entries, nil
}
