// Package task implements the durable, dependency-aware task queue at the
// heart of taskrelay. A task applies its effect locally at once, queues for
// network execution, retries across connectivity loss, and reconciles once
// the remote call settles.
//
// The Engine mirrors the persisted record set into queue/completed
// partitions, answers match queries, and resolves one-shot waiters as
// reconciliation passes satisfy their conditions. The Runner drives each
// queued task through its local-apply and remote-execute phases, honoring
// dependsOn ordering, pausing while offline, retrying transient remote
// failures with backoff, and rolling back local effects on permanent
// failure.
package task
