package sagalog

import "context"

// Repository is the port (interface) for persisting saga log entries.
// The coordinator depends on this abstraction, not on SQLite directly.
type Repository interface {
	// Save persists a new log entry. Each call appends a row; the table is
	// an append-only audit log, not an upsert.
	Save(ctx context.Context, entry *SagaLog) error

	// GetLatest returns the most recent entry for sagaID.
	GetLatest(ctx context.Context, sagaID string) (*SagaLog, error)

	// Incomplete lists every saga whose latest entry is not terminal.
	Incomplete(ctx context.Context) ([]Pending, error)
}
