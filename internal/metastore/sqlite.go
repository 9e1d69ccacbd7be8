// Package metastore keeps ingestion bookkeeping in SQLite: which files were
// seen and how each pipeline stage went. It is advisory metadata next to
// the vector index, useful for inspecting past runs; the pipeline never
// depends on it for correctness.
package metastore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"docrag/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	file_id     TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	uploaded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS ingest_events (
	event_id   TEXT PRIMARY KEY,
	file_id    TEXT NOT NULL,
	stage      TEXT NOT NULL,
	ok         INTEGER NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ingest_events_file ON ingest_events(file_id);
`

// Event is one recorded stage outcome.
type Event struct {
	EventID   string
	FileID    string
	Stage     string
	OK        bool
	Message   string
	CreatedAt time.Time
}

// Store is a SQLite-backed event log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordFile upserts a seen file; re-ingesting the same content updates the
// path rather than duplicating the row.
func (s *Store) RecordFile(ctx context.Context, fileID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (file_id, path) VALUES (?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET path = excluded.path`,
		fileID, path)
	return err
}

// RecordEvent appends one stage outcome with a random unique event ID.
func (s *Store) RecordEvent(ctx context.Context, fileID, stage string, ok bool, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_events (event_id, file_id, stage, ok, message) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), fileID, stage, boolToInt(ok), message)
	return err
}

// Events returns the recorded events for a file, oldest first.
func (s *Store) Events(ctx context.Context, fileID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, file_id, stage, ok, message, created_at
		 FROM ingest_events WHERE file_id = ? ORDER BY created_at, event_id`,
		fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		var ok int
		if err := rows.Scan(&e.EventID, &e.FileID, &e.Stage, &ok, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OK = ok != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.EventLog = (*Store)(nil)
