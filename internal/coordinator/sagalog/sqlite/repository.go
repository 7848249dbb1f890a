// Package sqlite provides a SQLite-backed implementation of sagalog.Repository.
//
// WAL mode is enabled on Open so that the recovery sweep can read while a
// checkout is appending.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog"

	// Pure-Go driver, no CGO.
	_ "modernc.org/sqlite"
)

// The table is append-only: each row is an immutable event in a saga's
// lifecycle. The row with the highest id per saga_id is its current state.
const schema = `
CREATE TABLE IF NOT EXISTS saga_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    saga_id         TEXT        NOT NULL,
    order_id        TEXT        NOT NULL DEFAULT '',
    status          TEXT        NOT NULL,
    current_step    TEXT        NOT NULL DEFAULT '',

    -- Written once on STARTED, NULL after.
    payload         TEXT,

    completed_steps TEXT        NOT NULL DEFAULT '[]',
    error_messages  TEXT        NOT NULL DEFAULT '[]',
    trace_id        TEXT        NOT NULL DEFAULT '',
    span_id         TEXT        NOT NULL DEFAULT '',
    updated_at      TEXT        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_logs_saga_id ON saga_logs(saga_id, id);
CREATE INDEX IF NOT EXISTS idx_saga_logs_order_id ON saga_logs(order_id);
CREATE INDEX IF NOT EXISTS idx_saga_logs_trace_id ON saga_logs(trace_id);
`

const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectColumns = `l.saga_id, l.order_id, l.status, l.current_step, COALESCE(l.payload,''),
       l.completed_steps, l.error_messages, l.trace_id, l.span_id, l.updated_at`

// Repository is the SQLite implementation of sagalog.Repository.
type Repository struct {
	db *sql.DB
}

var _ sagalog.Repository = (*Repository)(nil)

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	repo, err := sqlite.Open("./data/saga.db")
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

// Save inserts a new saga log entry. It is safe to call concurrently.
func (r *Repository) Save(ctx context.Context, entry *sagalog.SagaLog) error {
	const q = `
		INSERT INTO saga_logs
			(saga_id, order_id, status, current_step, payload, completed_steps,
			 error_messages, trace_id, span_id, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.SagaID,
		entry.OrderID,
		string(entry.Status),
		entry.CurrentStep,
		nullableString(entry.Payload),
		defaultJSON(entry.CompletedSteps),
		defaultJSON(entry.ErrorMessages),
		entry.TraceID,
		entry.SpanID,
		entry.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save saga log for %q: %w", entry.SagaID, err)
	}
	return nil
}

// GetLatest returns the most recent log entry for a given saga ID.
func (r *Repository) GetLatest(ctx context.Context, sagaID string) (*sagalog.SagaLog, error) {
	q := `SELECT ` + selectColumns + `
		FROM   saga_logs l
		WHERE  l.saga_id = ?
		ORDER  BY l.id DESC
		LIMIT  1`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, q, sagaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: saga %q: %w", sagaID, sagalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get latest for %q: %w", sagaID, err)
	}
	return entry, nil
}

// Incomplete returns every saga whose newest row is not COMPLETED or FAILED,
// oldest first, along with the payload from its STARTED row.
func (r *Repository) Incomplete(ctx context.Context) ([]sagalog.Pending, error) {
	q := `SELECT ` + selectColumns + `,
		       COALESCE((SELECT s.payload FROM saga_logs s
		                 WHERE s.saga_id = l.saga_id AND s.status = 'STARTED'
		                 ORDER BY s.id LIMIT 1), '')
		FROM   saga_logs l
		JOIN  (SELECT saga_id, MAX(id) AS id FROM saga_logs GROUP BY saga_id) latest
		       ON latest.id = l.id
		WHERE  l.status NOT IN ('COMPLETED', 'FAILED')
		ORDER  BY l.id`

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list incomplete sagas: %w", err)
	}
	defer rows.Close()

	var pending []sagalog.Pending
	for rows.Next() {
		var (
			p         sagalog.Pending
			updatedAt string
		)
		if err := rows.Scan(
			&p.Latest.SagaID, &p.Latest.OrderID, &p.Latest.Status, &p.Latest.CurrentStep,
			&p.Latest.Payload, &p.Latest.CompletedSteps, &p.Latest.ErrorMessages,
			&p.Latest.TraceID, &p.Latest.SpanID, &updatedAt, &p.Payload,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan incomplete saga: %w", err)
		}
		if p.Latest.UpdatedAt, err = parseRFC3339(updatedAt); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list incomplete sagas: %w", err)
	}
	return pending, nil
}

func scanEntry(row *sql.Row) (*sagalog.SagaLog, error) {
	var (
		entry     sagalog.SagaLog
		updatedAt string
	)
	if err := row.Scan(
		&entry.SagaID, &entry.OrderID, &entry.Status, &entry.CurrentStep,
		&entry.Payload, &entry.CompletedSteps, &entry.ErrorMessages,
		&entry.TraceID, &entry.SpanID, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if entry.UpdatedAt, err = parseRFC3339(updatedAt); err != nil {
		return nil, err
	}
	return &entry, nil
}

// applySchema runs the DDL statements once. Idempotent due to IF NOT EXISTS.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

// nullableString stores NULL instead of an empty payload on non-STARTED rows.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func defaultJSON(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}
