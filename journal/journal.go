// Package journal persists netops operation lifecycle records in SQLite, so
// a relaunched process can see what was in flight and continue cancelled
// downloads from their resume data.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/netkit/netops"
)

// Store implements netops.Journal on a SQLite database. database/sql
// serializes access; WAL mode and a busy timeout keep concurrent writers
// from tripping over each other.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the journal database at path.
// ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS task_journal (
		id TEXT PRIMARY KEY,
		task_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		url TEXT,
		state TEXT NOT NULL,
		error TEXT,
		resume_data BLOB,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_journal_task_id ON task_journal(task_id);
	CREATE INDEX IF NOT EXISTS idx_task_journal_state ON task_journal(state);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("journal: init schema: %w", err)
	}
	return nil
}

// RecordCreated implements netops.Journal.
func (s *Store) RecordCreated(ctx context.Context, e *netops.JournalEntry) error {
	query := `INSERT INTO task_journal (id, task_id, kind, url, state, error, resume_data, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID.String(), e.TaskID, e.Kind, e.URL, e.State, e.Error, e.ResumeData,
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("journal: insert task %d: %w", e.TaskID, err)
	}
	return nil
}

// RecordState implements netops.Journal. It updates the newest row for
// taskID; identifiers are only unique per session, and older sessions may
// have journaled the same number.
func (s *Store) RecordState(ctx context.Context, taskID int64, state netops.State, errMsg string) error {
	query := `UPDATE task_journal SET state = ?, error = ?, updated_at = ?
	          WHERE id = (SELECT id FROM task_journal WHERE task_id = ? ORDER BY created_at DESC LIMIT 1)`
	_, err := s.db.ExecContext(ctx, query, state.String(), errMsg, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("journal: update task %d: %w", taskID, err)
	}
	return nil
}

// RecordResumeData implements netops.Journal.
func (s *Store) RecordResumeData(ctx context.Context, taskID int64, resumeData []byte) error {
	query := `UPDATE task_journal SET resume_data = ?, updated_at = ?
	          WHERE id = (SELECT id FROM task_journal WHERE task_id = ? ORDER BY created_at DESC LIMIT 1)`
	_, err := s.db.ExecContext(ctx, query, resumeData, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("journal: resume data for task %d: %w", taskID, err)
	}
	return nil
}

// Incomplete implements netops.Journal.
func (s *Store) Incomplete(ctx context.Context) ([]netops.JournalEntry, error) {
	query := `SELECT id, task_id, kind, url, state, error, resume_data, created_at, updated_at
	          FROM task_journal
	          WHERE state NOT IN (?, ?)
	          ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query,
		netops.StateFinished.String(), netops.StateCancelled.String())
	if err != nil {
		return nil, fmt.Errorf("journal: list incomplete: %w", err)
	}
	defer rows.Close()

	var entries []netops.JournalEntry
	for rows.Next() {
		var (
			e   netops.JournalEntry
			id  string
			url sql.NullString
			msg sql.NullString
		)
		if err := rows.Scan(&id, &e.TaskID, &e.Kind, &url, &e.State, &msg,
			&e.ResumeData, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("journal: bad entry id %q: %w", id, err)
		}
		e.ID = parsed
		e.URL = url.String
		e.Error = msg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ netops.Journal = (*Store)(nil)
