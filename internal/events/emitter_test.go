package events

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestEmitDeliversToAllHandlers(t *testing.T) {
	emitter := NewEmitter(testLogger())

	var got []*QueueChangedEvent
	for i := 0; i < 3; i++ {
		emitter.RegisterHandler(HandlerFunc(func(_ context.Context, event *QueueChangedEvent) error {
			got = append(got, event)
			return nil
		}))
	}

	event := &QueueChangedEvent{At: time.Now().UTC(), Queued: 2, Completed: 1}
	require.NoError(t, emitter.Emit(context.Background(), event))
	require.Len(t, got, 3)
	for _, e := range got {
		assert.Same(t, event, e)
	}
}

func TestEmitContinuesPastHandlerErrors(t *testing.T) {
	emitter := NewEmitter(testLogger())

	first := errors.New("first failure")
	calls := 0
	emitter.RegisterHandler(HandlerFunc(func(context.Context, *QueueChangedEvent) error {
		calls++
		return first
	}))
	emitter.RegisterHandler(HandlerFunc(func(context.Context, *QueueChangedEvent) error {
		calls++
		return errors.New("second failure")
	}))
	emitter.RegisterHandler(HandlerFunc(func(context.Context, *QueueChangedEvent) error {
		calls++
		return nil
	}))

	err := emitter.Emit(context.Background(), &QueueChangedEvent{})
	assert.Equal(t, 3, calls, "an erroring handler must not stop delivery")
	assert.ErrorIs(t, err, first, "the first error encountered is returned")
}

func TestEmitWithNoHandlers(t *testing.T) {
	emitter := NewEmitter(testLogger())
	require.NoError(t, emitter.Emit(context.Background(), &QueueChangedEvent{}))
}
