// Package api implements the HTTP surface for submitting, cancelling,
// querying, and waiting on tasks. Handlers are thin wrappers over the task
// engine: submissions and cancellations write through the persisted source
// and report the engine's eventually-consistent view.
package api
