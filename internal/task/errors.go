package task

import (
	"errors"
	"fmt"
)

// Failure taxonomy for task execution. Errors internal to a single task's
// execution never crash the runner; they are converted to a terminal failed
// status and surface to callers through the record's ErrorMessage field.
var (
	// ErrLocalApply indicates the local-apply procedure failed. Fatal for
	// the task, never retried: local application is expected to be purely
	// computational and deterministic.
	ErrLocalApply = errors.New("local apply failed")

	// ErrRemoteTransient marks a remote failure that should be retried
	// with backoff (network errors, retryable server errors).
	ErrRemoteTransient = errors.New("transient remote failure")

	// ErrRemotePermanent marks an unrecoverable remote failure. The task's
	// rollback runs before the terminal failed status is persisted.
	ErrRemotePermanent = errors.New("permanent remote failure")

	// ErrDependencyFailed indicates a dependency task (direct or
	// transitive) ended failed, cascading failure to this task.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrMatchPredicate is returned when a caller-supplied match predicate
	// panics during a query. Engine state is untouched.
	ErrMatchPredicate = errors.New("match predicate failed")

	// ErrUnknownKind indicates no executor is registered for the task's
	// kind discriminator.
	ErrUnknownKind = errors.New("no executor registered for task kind")
)

// Transient wraps err so the default retry policy classifies it as
// retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrRemoteTransient, err)
}

// Permanent wraps err so the retry policy stops retrying and the task is
// failed with rollback.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrRemotePermanent, err)
}

// IsPermanent reports whether err is explicitly marked unrecoverable.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRemotePermanent)
}
