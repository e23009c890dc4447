// Package postgres implements the persisted task source on PostgreSQL for
// deployments that share a task store across processes. Uses the pgx stdlib
// driver through database/sql.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/taskrelay/internal/store"
	"github.com/phrazzld/taskrelay/internal/task"
)

// Source is a task.Source backed by PostgreSQL. Like the sqlite source it
// pushes complete record-set snapshots to subscribers after every mutation.
type Source struct {
	db     *sql.DB
	logger *slog.Logger

	// mu serializes mutation+notify; see the sqlite source for rationale.
	mu   sync.Mutex
	subs []func(records []task.Record)
}

// New creates a PostgreSQL-backed source over an opened connection pool.
// Run Migrate before constructing the source.
func New(db *sql.DB, logger *slog.Logger) *Source {
	return &Source{
		db:     db,
		logger: logger.With("component", "postgres_source"),
	}
}

// Subscribe registers a callback invoked with the complete record set after
// every change made through this source.
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			status = EXCLUDED.status,
			depends_on = EXCLUDED.depends_on,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`,
		rec.ID,
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

	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return store.NewStoreError("delete", fmt.Sprintf("task %s", id), err)
	}

	s.notifyLocked(ctx)
	return nil
}

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
		id      uuid.UUID
		kind    string
		payload []byte
		status  string
		depsStr string
		errMsg  string
		created time.Time
		updated time.Time
	)
	if err := rows.Scan(&id, &kind, &payload, &status, &depsStr, &errMsg, &created, &updated); err != nil {
		return task.Record{}, fmt.Errorf("failed to scan task row: %w", err)
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
