package events

import (
	"context"
	"log/slog"
	"sync"
)

// Emitter dispatches queue-change events to registered handlers in memory.
// Emission is fire-and-forget from the caller's point of view: handler
// errors are logged and the event is still delivered to the remaining
// handlers.
type Emitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewEmitter creates a new Emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		handlers: make([]Handler, 0),
		logger:   logger.With("component", "event_emitter"),
	}
}

// RegisterHandler adds a new handler to receive queue-change events.
func (e *Emitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered event handler", "handler_count", len(e.handlers))
}

// Emit publishes the event to all registered handlers. If any handler
// returns an error, the event is still sent to all other handlers and the
// first error encountered is returned.
func (e *Emitter) Emit(ctx context.Context, event *QueueChangedEvent) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleQueueChanged(ctx, event); err != nil {
			e.logger.Error("handler failed to process queue change",
				"error", err,
				"handler_index", i)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
