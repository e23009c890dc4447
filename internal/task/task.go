package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the current lifecycle state of a task
type Status string

// Possible task status values. A task is created as StatusQueued, becomes
// StatusLocalComplete once its optimistic local effect has been applied,
// StatusRemotePending while the remote call is in flight, and settles in
// StatusComplete or StatusFailed. The last two are terminal.
const (
	StatusQueued        Status = "queued"
	StatusLocalComplete Status = "local_complete"
	StatusRemotePending Status = "remote_pending"
	StatusComplete      Status = "complete"
	StatusFailed        Status = "failed"
)

// Terminal reports whether the status is final. A record never leaves a
// terminal status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusLocalComplete, StatusRemotePending, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Record represents a unit of optimistic work and its durable state.
// Version: 1.0
type Record struct {
	// ID is the record's globally unique identifier
	ID uuid.UUID `json:"id"`

	// Kind identifies which executor performs the task's local and
	// remote phases. Compared by value, never by type identity.
	Kind string `json:"kind"`

	// Payload carries kind-specific data needed to perform the action
	// and to roll it back. Opaque to the engine.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Status is the task's lifecycle state
	Status Status `json:"status"`

	// DependsOn lists record IDs that must reach StatusComplete before
	// this task's remote phase may start
	DependsOn []uuid.UUID `json:"depends_on,omitempty"`

	// ErrorMessage holds the last failure detail for failed tasks
	ErrorMessage string `json:"error_message,omitempty"`

	// CreatedAt orders queue processing; ties are broken by ID
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every persisted transition
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a queued Record for the given kind. The payload is serialized
// to JSON; a nil payload is allowed for kinds that need none.
func New(kind string, payload any, dependsOn ...uuid.UUID) (Record, error) {
	if kind == "" {
		return Record{}, fmt.Errorf("task kind must not be empty")
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Record{}, fmt.Errorf("failed to serialize task payload: %w", err)
		}
		raw = b
	}

	now := time.Now().UTC()
	return Record{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   raw,
		Status:    StatusQueued,
		DependsOn: append([]uuid.UUID(nil), dependsOn...),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks the structural invariants of a record. Records that fail
// validation are treated as absent during reconciliation.
func (r Record) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("record has nil id")
	}
	if r.Kind == "" {
		return fmt.Errorf("record %s has empty kind", r.ID)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record %s has unknown status %q", r.ID, r.Status)
	}
	return nil
}

// Clone returns a deep copy of the record so callers can hold a snapshot
// without aliasing engine state.
func (r Record) Clone() Record {
	cp := r
	if r.DependsOn != nil {
		cp.DependsOn = append([]uuid.UUID(nil), r.DependsOn...)
	}
	if r.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), r.Payload...)
	}
	return cp
}

// Before reports whether r sorts ahead of other in queue order: creation
// time ascending, ties broken by id bytes for determinism.
func (r Record) Before(other Record) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	return bytes.Compare(r.ID[:], other.ID[:]) < 0
}

// UnmarshalPayload decodes the record's payload into the provided structure.
func (r Record) UnmarshalPayload(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("record %s has no payload", r.ID)
	}
	return json.Unmarshal(r.Payload, v)
}

// Source is the durable owner of record state. All mutations round-trip
// through the source; the engine only mirrors what the source reports.
// Version: 1.0
type Source interface {
	// Subscribe registers a callback invoked with the complete current
	// record set after every change (insert, update, delete) - not deltas.
	Subscribe(fn func(records []Record))

	// Snapshot returns the complete current record set.
	Snapshot(ctx context.Context) ([]Record, error)

	// Upsert inserts or replaces a record by id.
	Upsert(ctx context.Context, record Record) error

	// Delete removes the record with the given id. Deleting an absent id
	// is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}
