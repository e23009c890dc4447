package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/phrazzld/taskrelay/internal/connectivity"
)

// RetryConfig configures exponential backoff for transient remote failures.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 500ms)
	MaxInterval         time.Duration // Maximum retry interval (default 30s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 5min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		MaxElapsedTime:      5 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// RunnerConfig holds configuration for the task runner.
type RunnerConfig struct {
	// Parallelism bounds how many tasks run phases concurrently.
	// If zero or negative, defaults to 4.
	Parallelism int

	// Retry configures the remote-phase backoff policy.
	Retry RetryConfig
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Parallelism: 4,
		Retry:       DefaultRetryConfig(),
	}
}

// Runner drives queued tasks through their local-apply and remote-execute
// phases, respecting dependency ordering and connectivity state. All status
// transitions are written through the persisted source; the runner observes
// progress the same way every other engine consumer does.
type Runner struct {
	engine   *Engine
	source   Source
	registry *Registry
	monitor  connectivity.Monitor
	config   RunnerConfig
	logger   *slog.Logger

	sem  *semaphore.Weighted
	wake chan struct{}

	// mu guards inFlight and applied
	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
	applied  map[uuid.UUID]struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewRunner creates a Runner over the given engine and source. The engine
// must already be subscribed to the source so the runner observes state the
// engine has reconciled.
func NewRunner(
	engine *Engine,
	source Source,
	registry *Registry,
	monitor connectivity.Monitor,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		engine:     engine,
		source:     source,
		registry:   registry,
		monitor:    monitor,
		config:     config,
		logger:     logger.With("component", "task_runner"),
		sem:        semaphore.NewWeighted(int64(config.Parallelism)),
		wake:       make(chan struct{}, 1),
		inFlight:   make(map[uuid.UUID]struct{}),
		applied:    make(map[uuid.UUID]struct{}),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start recovers interrupted tasks, subscribes to change and connectivity
// notifications, and begins the scheduling loop.
func (r *Runner) Start() error {
	if err := r.Recover(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	r.source.Subscribe(func([]Record) { r.poke() })
	r.monitor.Subscribe(func(online bool) {
		if online {
			r.logger.Info("connectivity restored, resuming parked tasks")
		} else {
			r.logger.Info("connectivity lost, parking remote execution")
		}
		r.poke()
	})

	r.wg.Add(1)
	go r.loop()
	r.poke()
	return nil
}

// Stop gracefully shuts down the runner, waiting for in-flight phases to
// observe cancellation.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
}

// Recover resets tasks interrupted mid remote call by a previous run. Their
// remote outcome is unknown, so they drop back to local-complete and the
// remote phase is retried.
func (r *Runner) Recover() error {
	ctx := context.Background()

	records, err := r.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot persisted tasks: %w", err)
	}

	reset := 0
	for _, rec := range records {
		if rec.Status != StatusRemotePending {
			continue
		}
		rec.Status = StatusLocalComplete
		rec.UpdatedAt = time.Now().UTC()
		if err := r.source.Upsert(ctx, rec); err != nil {
			r.logger.Error("failed to reset interrupted task",
				"task_id", rec.ID,
				"task_kind", rec.Kind,
				"error", err)
			continue
		}
		reset++
	}

	if reset > 0 {
		r.logger.Info("recovered interrupted tasks", "reset_count", reset)
	}
	return nil
}

// poke nudges the scheduling loop without blocking; coalesces bursts.
func (r *Runner) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
			r.dispatch()
		}
	}
}

// dispatch scans the queue in creation order and starts every runnable
// phase. Tasks linked by a dependsOn edge never run their remote phases
// concurrently: a dependent only becomes eligible once its dependency is
// terminal in the shared state.
func (r *Runner) dispatch() {
	online := r.monitor.Online()

	for _, rec := range r.engine.Queued() {
		if r.tracked(rec.ID) {
			continue
		}

		switch rec.Status {
		case StatusQueued:
			if depID, failed := r.failedDependency(rec); failed {
				// Local phase never ran, so no rollback on cascade.
				r.spawn(rec, func(rec Record) { r.cascadeFail(rec, depID, false) })
				continue
			}
			r.spawn(rec, r.runLocal)

		case StatusLocalComplete:
			if depID, failed := r.failedDependency(rec); failed {
				r.spawn(rec, func(rec Record) { r.cascadeFail(rec, depID, true) })
				continue
			}
			if !r.dependenciesComplete(rec) || !online {
				// Parked: woken by the next change or connectivity
				// notification, no busy-loop.
				continue
			}
			r.spawn(rec, r.runRemote)

		case StatusRemotePending:
			// In flight in this process, or awaiting the recovery reset.
		}
	}
}

func (r *Runner) tracked(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[id]
	return ok
}

// spawn marks the task in flight and runs fn under the parallelism bound.
func (r *Runner) spawn(rec Record, fn func(Record)) {
	r.mu.Lock()
	r.inFlight[rec.ID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inFlight, rec.ID)
			r.mu.Unlock()
			r.poke()
		}()

		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			return
		}
		defer r.sem.Release(1)

		fn(rec)
	}()
}

// failedDependency reports whether any direct dependency ended failed.
func (r *Runner) failedDependency(rec Record) (uuid.UUID, bool) {
	for _, depID := range rec.DependsOn {
		if dep, ok := r.engine.Get(depID); ok && dep.Status == StatusFailed {
			return depID, true
		}
	}
	return uuid.Nil, false
}

// dependenciesComplete reports whether every dependency is complete. A
// dependency missing from the combined set parks the task until it appears.
func (r *Runner) dependenciesComplete(rec Record) bool {
	for _, depID := range rec.DependsOn {
		dep, ok := r.engine.Get(depID)
		if !ok || dep.Status != StatusComplete {
			return false
		}
	}
	return true
}

// runLocal performs the optimistic local phase exactly once.
func (r *Runner) runLocal(rec Record) {
	logger := r.logger.With("task_id", rec.ID, "task_kind", rec.Kind)

	exec, ok := r.registry.Get(rec.Kind)
	if !ok {
		r.failTask(rec, fmt.Errorf("%w: %q", ErrUnknownKind, rec.Kind), nil)
		return
	}

	r.mu.Lock()
	alreadyApplied := false
	if _, done := r.applied[rec.ID]; done {
		alreadyApplied = true
	}
	r.mu.Unlock()

	if !alreadyApplied {
		if err := exec.ApplyLocal(r.ctx, rec); err != nil {
			logger.Error("local apply failed", "error", err)
			r.failTask(rec, fmt.Errorf("%w: %w", ErrLocalApply, err), nil)
			return
		}
		r.mu.Lock()
		r.applied[rec.ID] = struct{}{}
		r.mu.Unlock()
	}

	logger.Debug("local phase applied")
	r.persist(rec, StatusLocalComplete, "")
}

// runRemote drives the remote phase with backoff retry until success,
// permanent failure, or shutdown.
func (r *Runner) runRemote(rec Record) {
	logger := r.logger.With("task_id", rec.ID, "task_kind", rec.Kind)

	exec, ok := r.registry.Get(rec.Kind)
	if !ok {
		r.failTask(rec, fmt.Errorf("%w: %q", ErrUnknownKind, rec.Kind), nil)
		return
	}

	r.persist(rec, StatusRemotePending, "")

	operation := func() error {
		if r.ctx.Err() != nil {
			return backoff.Permanent(r.ctx.Err())
		}
		err := exec.ExecuteRemote(r.ctx, rec)
		if err == nil {
			return nil
		}
		if !r.transient(exec, err) {
			return backoff.Permanent(err)
		}
		logger.Warn("transient remote failure, will retry", "error", err)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.config.Retry.InitialInterval
	policy.MaxInterval = r.config.Retry.MaxInterval
	policy.MaxElapsedTime = r.config.Retry.MaxElapsedTime
	policy.Multiplier = r.config.Retry.Multiplier
	policy.RandomizationFactor = r.config.Retry.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, r.ctx))
	if err == nil {
		logger.Info("remote phase completed")
		r.forgetApplied(rec.ID)
		r.persist(rec, StatusComplete, "")
		return
	}

	if r.ctx.Err() != nil {
		// Shutdown mid-flight: the record stays remote-pending and the
		// recovery pass resets it on the next start.
		return
	}

	logger.Error("remote phase failed permanently", "error", err)
	r.failTask(rec, err, exec)
}

// transient classifies a remote failure for the task's kind. Executors may
// override via RetryClassifier; by default everything not explicitly marked
// permanent is retried until the backoff budget runs out.
func (r *Runner) transient(exec Executor, err error) bool {
	if rc, ok := exec.(RetryClassifier); ok {
		return rc.Transient(err)
	}
	return !IsPermanent(err)
}

// cascadeFail terminates a task whose dependency ended failed. Rollback
// runs only if the local phase had already applied.
func (r *Runner) cascadeFail(rec Record, depID uuid.UUID, rollback bool) {
	r.logger.Info("failing task after dependency failure",
		"task_id", rec.ID,
		"task_kind", rec.Kind,
		"dependency_id", depID)

	cause := fmt.Errorf("%w: %s", ErrDependencyFailed, depID)
	var exec Executor
	if rollback {
		exec, _ = r.registry.Get(rec.Kind)
	}
	r.failTask(rec, cause, exec)
}

// failTask rolls back (when an executor is supplied) and persists the
// terminal failed status. Rollback happens at most once and always before
// the terminal write.
func (r *Runner) failTask(rec Record, cause error, exec Executor) {
	if exec != nil {
		if err := exec.Rollback(r.ctx, rec); err != nil {
			r.logger.Error("rollback failed",
				"task_id", rec.ID,
				"task_kind", rec.Kind,
				"error", err)
		}
	}
	r.forgetApplied(rec.ID)
	r.persist(rec, StatusFailed, cause.Error())
}

func (r *Runner) forgetApplied(id uuid.UUID) {
	r.mu.Lock()
	delete(r.applied, id)
	r.mu.Unlock()
}

// persist writes a status transition through the source. The engine's
// mirror updates when the change notification round-trips.
func (r *Runner) persist(rec Record, status Status, errMsg string) {
	rec.Status = status
	rec.ErrorMessage = errMsg
	rec.UpdatedAt = time.Now().UTC()

	if err := r.source.Upsert(context.Background(), rec); err != nil {
		r.logger.Error("failed to persist status transition",
			"task_id", rec.ID,
			"task_kind", rec.Kind,
			"status", status,
			"error", err)
	}
}
