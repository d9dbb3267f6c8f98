package netops

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JournalEntry is one persisted task record. TaskID ties the row to the
// transport task identifier; ID is stable across the identifier being reused
// by a later session.
type JournalEntry struct {
	ID         uuid.UUID
	TaskID     int64
	Kind       string
	URL        string
	State      string
	Error      string
	ResumeData []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Journal persists operation lifecycle records so a relaunched process can
// see what was in flight and, for downloads cancelled with resume data,
// continue the transfer. All methods are best-effort from the manager's
// point of view: journal failures are logged and never fail an operation.
type Journal interface {
	// RecordCreated persists a freshly registered operation.
	RecordCreated(ctx context.Context, e *JournalEntry) error

	// RecordState updates the row for taskID with its new lifecycle state
	// and terminal error message, if any.
	RecordState(ctx context.Context, taskID int64, state State, errMsg string) error

	// RecordResumeData attaches captured resume data to the row for
	// taskID.
	RecordResumeData(ctx context.Context, taskID int64, resumeData []byte) error

	// Incomplete returns every entry that never reached a terminal state,
	// newest first.
	Incomplete(ctx context.Context) ([]JournalEntry, error)
}
