package events

import (
	"context"
	"time"
)

// QueueChangedEvent notifies observers that the engine's mirrored view of
// the task set changed after a reconciliation pass. It carries no record
// data: consumers that care re-query the engine.
type QueueChangedEvent struct {
	// At is the timestamp of the reconciliation pass
	At time.Time

	// Queued and Completed are the partition sizes after the pass
	Queued    int
	Completed int
}

// Handler defines an interface for components that react to queue changes.
type Handler interface {
	// HandleQueueChanged processes the given event within the provided
	// context. Returns an error if the event cannot be handled.
	HandleQueueChanged(ctx context.Context, event *QueueChangedEvent) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *QueueChangedEvent) error

// HandleQueueChanged implements Handler.
func (f HandlerFunc) HandleQueueChanged(ctx context.Context, event *QueueChangedEvent) error {
	return f(ctx, event)
}
