// Package sqlite implements the persisted task source on SQLite, the
// default backend for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/phrazzld/taskrelay/internal/store"
	"github.com/phrazzld/taskrelay/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	payload       BLOB,
	status        TEXT NOT NULL,
	depends_on    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// memDBCounter disambiguates shared-cache in-memory databases so every
// NewMemory call gets its own database.
var memDBCounter atomic.Int64

// Source is a task.Source backed by SQLite. Every mutation reloads the
// complete record set and pushes it to subscribers, so consumers always see
// full snapshots, never deltas.
type Source struct {
	db     *sql.DB
	logger *slog.Logger

	// mu serializes mutation+notify so subscribers never observe
	// notifications out of order with the writes that caused them.
	mu   sync.Mutex
	subs []func(records []task.Record)
}

// New creates a SQLite-backed source at the given path. Creates parent
// directories if needed and enables WAL mode with a busy timeout.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Source, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return newSource(ctx, db, logger)
}

// NewMemory creates an in-memory source for testing. Uses a shared cache so
// multiple connections see the same database.
func NewMemory(ctx context.Context, logger *slog.Logger) (*Source, error) {
	connStr := fmt.Sprintf("file:taskrelay-mem-%d?mode=memory&cache=shared", memDBCounter.Add(1))
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	// Keep the in-memory database alive across connection churn.
	db.SetMaxIdleConns(1)

	return newSource(ctx, db, logger)
}

func newSource(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Source, error) {
	db.SetMaxOpenConns(2)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Source{
		db:     db,
		logger: logger.With("component", "sqlite_source"),
	}, nil
}

// Close closes the database connection.
func (s *Source) Close() error {
	return s.db.Close()
}

// Subscribe registers a callback invoked with the complete record set after
// every change.
func (s *Source) Subscribe(fn func(records []task.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Snapshot returns the complete current record set in creation order.
func (s *Source) Snapshot(ctx context.Context) ([]task.Record, error) {
	return s.loadAll(ctx, s.db)
}

// Upsert inserts or replaces a record by id, then notifies subscribers.
func (s *Source) Upsert(ctx context.Context, rec task.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidRecord, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, payload, status, depends_on, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			status = excluded.status,
			depends_on = excluded.depends_on,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`,
		rec.ID.String(),
		rec.Kind,
		[]byte(rec.Payload),
		rec.Status,
		store.EncodeDeps(rec.DependsOn),
		rec.ErrorMessage,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return store.NewStoreError("upsert", fmt.Sprintf("task %s", rec.ID), err)
	}

	s.notifyLocked(ctx)
	return nil
}

// Delete removes the record with the given id, then notifies subscribers.
// Deleting an absent id is a no-op.
func (s *Source) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id.String()); err != nil {
		return store.NewStoreError("delete", fmt.Sprintf("task %s", id), err)
	}

	s.notifyLocked(ctx)
	return nil
}

// notifyLocked pushes the full current record set to every subscriber.
// Called with mu held so notifications stay ordered with their writes.
func (s *Source) notifyLocked(ctx context.Context) {
	records, err := s.loadAll(ctx, s.db)
	if err != nil {
		s.logger.Error("failed to load records for change notification", "error", err)
		return
	}
	for _, fn := range s.subs {
		fn(records)
	}
}

// loadAll reads every row, skipping rows that fail to decode: a corrupt row
// is treated as absent rather than wedging reconciliation.
func (s *Source) loadAll(ctx context.Context, q store.DBTX) ([]task.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, kind, payload, status, depends_on, error_message, created_at, updated_at
		FROM tasks
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, store.NewStoreError("snapshot", "query tasks", err)
	}
	defer rows.Close()

	var records []task.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Error("skipping undecodable task row", "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("snapshot", "iterate tasks", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (task.Record, error) {
	var (
		idStr   string
		kind    string
		payload []byte
		status  string
		depsStr string
		errMsg  string
		created time.Time
		updated time.Time
	)
	if err := rows.Scan(&idStr, &kind, &payload, &status, &depsStr, &errMsg, &created, &updated); err != nil {
		return task.Record{}, fmt.Errorf("failed to scan task row: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return task.Record{}, fmt.Errorf("%w: bad id %q: %w", store.ErrInvalidRecord, idStr, err)
	}
	deps, err := store.DecodeDeps(depsStr)
	if err != nil {
		return task.Record{}, fmt.Errorf("%w: task %s: %w", store.ErrInvalidRecord, id, err)
	}

	return task.Record{
		ID:           id,
		Kind:         kind,
		Payload:      payload,
		Status:       task.Status(status),
		DependsOn:    deps,
		ErrorMessage: errMsg,
		CreatedAt:    created.UTC(),
		UpdatedAt:    updated.UTC(),
	}, nil
}
