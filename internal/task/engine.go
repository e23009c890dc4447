package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/taskrelay/internal/events"
)

// Engine maintains the authoritative in-process view of all task records
// and brokers waiting and querying. The persisted source owns record state;
// the engine holds a derived mirror rebuilt wholesale on every change
// notification, never patched in place.
type Engine struct {
	source  Source
	emitter *events.Emitter
	logger  *slog.Logger

	// mu guards the mirror and both waiter registries. Reconcile replaces
	// both partitions and drains waiter lists non-atomically, so it must
	// run with mutual exclusion relative to itself.
	mu            sync.Mutex
	queued        []Record
	completed     []Record
	byID          map[uuid.UUID]Record
	localWaiters  map[uuid.UUID][]chan Record
	remoteWaiters map[uuid.UUID][]chan Record
}

// NewEngine creates an Engine mirroring the given source. The engine
// subscribes to the source immediately; callers seed the initial state by
// passing a snapshot to Reconcile (or by triggering any source mutation).
func NewEngine(source Source, emitter *events.Emitter, logger *slog.Logger) *Engine {
	e := &Engine{
		source:        source,
		emitter:       emitter,
		logger:        logger.With("component", "task_engine"),
		byID:          make(map[uuid.UUID]Record),
		localWaiters:  make(map[uuid.UUID][]chan Record),
		remoteWaiters: make(map[uuid.UUID][]chan Record),
	}
	source.Subscribe(e.Reconcile)
	return e
}

// Reconcile rebuilds the queue/completed partitions from the complete
// record set and resolves any waiters whose condition is now satisfied.
// It never panics: malformed records are logged and treated as absent.
func (e *Engine) Reconcile(records []Record) {
	e.mu.Lock()

	queued := make([]Record, 0, len(records))
	completed := make([]Record, 0)
	byID := make(map[uuid.UUID]Record, len(records))

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			e.logger.Error("skipping malformed record during reconciliation", "error", err)
			continue
		}
		if _, dup := byID[rec.ID]; dup {
			e.logger.Error("skipping duplicate record id during reconciliation", "task_id", rec.ID)
			continue
		}
		rec = rec.Clone()
		byID[rec.ID] = rec
		if rec.Status.Terminal() {
			completed = append(completed, rec)
		} else {
			queued = append(queued, rec)
		}
	}

	sort.Slice(queued, func(i, j int) bool { return queued[i].Before(queued[j]) })
	sort.Slice(completed, func(i, j int) bool { return completed[i].Before(completed[j]) })

	e.queued = queued
	e.completed = completed
	e.byID = byID

	// Resolve local waiters against the combined set: a record existing at
	// all means its local phase already happened.
	for id, waiters := range e.localWaiters {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		for _, ch := range waiters {
			ch <- rec
		}
		delete(e.localWaiters, id)
	}

	// Remote waiters resolve only once the record is terminal.
	for id, waiters := range e.remoteWaiters {
		rec, ok := byID[id]
		if !ok || !rec.Status.Terminal() {
			continue
		}
		for _, ch := range waiters {
			ch <- rec
		}
		delete(e.remoteWaiters, id)
	}

	queuedLen, completedLen := len(e.queued), len(e.completed)
	e.mu.Unlock()

	if e.emitter != nil {
		event := &events.QueueChangedEvent{
			At:        time.Now().UTC(),
			Queued:    queuedLen,
			Completed: completedLen,
		}
		if err := e.emitter.Emit(context.Background(), event); err != nil {
			e.logger.Debug("queue change handler reported error", "error", err)
		}
	}
}

// Queued returns a snapshot of the queue partition in processing order.
func (e *Engine) Queued() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecords(e.queued)
}

// Completed returns a snapshot of the terminal partition.
func (e *Engine) Completed() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRecords(e.completed)
}

// All returns a snapshot of the combined record set, queue first.
func (e *Engine) All() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, 0, len(e.queued)+len(e.completed))
	out = append(out, cloneRecords(e.queued)...)
	out = append(out, cloneRecords(e.completed)...)
	return out
}

// Get returns the record with the given id from the combined set.
func (e *Engine) Get(id uuid.UUID) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Resolve returns the queue's record with the same identity, guarding
// callers against operating on stale or already-removed task references.
func (e *Engine) Resolve(id uuid.UUID) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id]
	if !ok || rec.Status.Terminal() {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Find returns the first queued task of the given kind matching m, in
// stable queue order. A nil matcher matches every record of the kind.
func (e *Engine) Find(kind string, m Matcher) (Record, bool, error) {
	for _, rec := range e.Queued() {
		if rec.Kind != kind {
			continue
		}
		ok, err := matches(m, rec)
		if err != nil {
			return Record{}, false, err
		}
		if ok {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

// FindAll returns every queued task of the given kind matching m, in scan
// order. With includeCompleted set, the terminal partition is scanned after
// the queue.
func (e *Engine) FindAll(kind string, m Matcher, includeCompleted bool) ([]Record, error) {
	scan := e.Queued()
	if includeCompleted {
		scan = append(scan, e.Completed()...)
	}

	var out []Record
	for _, rec := range scan {
		if rec.Kind != kind {
			continue
		}
		ok, err := matches(m, rec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// WaitForLocal returns a channel that receives the record exactly once, as
// soon as a record with the given id exists anywhere in the combined set.
// Safe to call before the task has entered the queue: if the record is
// already present the channel is ready immediately, otherwise the next
// reconciliation containing it resolves the wait. No missed wakeup is
// possible because registration and resolution share the engine lock.
func (e *Engine) WaitForLocal(id uuid.UUID) <-chan Record {
	ch := make(chan Record, 1)
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.byID[id]; ok {
		ch <- rec.Clone()
		return ch
	}
	e.localWaiters[id] = append(e.localWaiters[id], ch)
	return ch
}

// WaitForRemote returns a channel that receives the record exactly once,
// after the record with the given id reaches a terminal status.
func (e *Engine) WaitForRemote(id uuid.UUID) <-chan Record {
	ch := make(chan Record, 1)
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.byID[id]; ok && rec.Status.Terminal() {
		ch <- rec.Clone()
		return ch
	}
	e.remoteWaiters[id] = append(e.remoteWaiters[id], ch)
	return ch
}

// AwaitLocal blocks until the record exists or the context is done.
func (e *Engine) AwaitLocal(ctx context.Context, id uuid.UUID) (Record, error) {
	select {
	case rec := <-e.WaitForLocal(id):
		return rec, nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// AwaitRemote blocks until the record is terminal or the context is done.
func (e *Engine) AwaitRemote(ctx context.Context, id uuid.UUID) (Record, error) {
	select {
	case rec := <-e.WaitForRemote(id):
		return rec, nil
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// Enqueue creates a queued record and writes it through the source. The
// engine's own state updates only once the source's change notification
// round-trips through Reconcile.
func (e *Engine) Enqueue(ctx context.Context, kind string, payload any, dependsOn ...uuid.UUID) (uuid.UUID, error) {
	rec, err := New(kind, payload, dependsOn...)
	if err != nil {
		return uuid.Nil, err
	}
	if err := e.source.Upsert(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	e.logger.Debug("task enqueued", "task_id", rec.ID, "task_kind", kind)
	return rec.ID, nil
}

// DequeueMatching requests deletion of every queued task of the given kind
// matching m and returns the number of deletions requested. Cancellation is
// best effort for tasks already executing remotely: the runner tolerates
// the record disappearing mid-flight.
func (e *Engine) DequeueMatching(ctx context.Context, kind string, m Matcher) (int, error) {
	matched, err := e.FindAll(kind, m, false)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range matched {
		if err := e.source.Delete(ctx, rec.ID); err != nil {
			return removed, fmt.Errorf("failed to dequeue task %s: %w", rec.ID, err)
		}
		removed++
	}
	if removed > 0 {
		e.logger.Debug("dequeued matching tasks", "task_kind", kind, "count", removed)
	}
	return removed, nil
}

func matches(m Matcher, rec Record) (bool, error) {
	if m == nil {
		return true, nil
	}
	return m.Matches(rec)
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
