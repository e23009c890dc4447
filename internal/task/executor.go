package task

import (
	"context"
	"sync"
)

// Executor implements the behavior of one task kind: the optimistic local
// phase, the durable remote phase, and the rollback of the local phase
// after a permanent remote failure.
// Version: 1.0
type Executor interface {
	// ApplyLocal performs the task's synchronous in-process effect. It is
	// invoked exactly once per task; an error fails the task immediately
	// with no retry and no rollback.
	ApplyLocal(ctx context.Context, rec Record) error

	// ExecuteRemote performs the network action that makes the task's
	// effect durable server-side. Errors wrapped with Permanent stop the
	// retry loop; everything else is classified by the kind's retry
	// policy.
	ExecuteRemote(ctx context.Context, rec Record) error

	// Rollback reverses the local-apply effect. Invoked at most once, and
	// always before the terminal failed status is persisted.
	Rollback(ctx context.Context, rec Record) error
}

// RetryClassifier lets an executor override the default transient/permanent
// classification of remote failures for its kind.
type RetryClassifier interface {
	// Transient reports whether the remote failure should be retried.
	Transient(err error) bool
}

// Registry maps kind discriminators to their executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an executor to a kind, replacing any previous binding.
func (r *Registry) Register(kind string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = exec
}

// Get returns the executor for the given kind.
func (r *Registry) Get(kind string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[kind]
	return exec, ok
}

// Kinds returns the registered kind discriminators.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.executors))
	for kind := range r.executors {
		kinds = append(kinds, kind)
	}
	return kinds
}
