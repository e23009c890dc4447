package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskrelay/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newDelivery(t *testing.T, p Payload) task.Record {
	t.Helper()
	rec, err := task.New(Kind, p)
	require.NoError(t, err)
	return rec
}

func TestApplyLocalValidatesURL(t *testing.T) {
	exec := NewExecutor(nil, testLogger())
	ctx := context.Background()

	rec := newDelivery(t, Payload{URL: "https://example.com/hook"})
	require.NoError(t, exec.ApplyLocal(ctx, rec))

	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "example.com/hook"},
		{"no host", "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newDelivery(t, Payload{URL: tt.url})
			assert.Error(t, exec.ApplyLocal(ctx, rec))
		})
	}
}

func TestExecuteRemoteDelivers(t *testing.T) {
	var gotMethod, gotBody, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Relay-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := NewExecutor(server.Client(), testLogger())
	rec := newDelivery(t, Payload{
		URL:     server.URL,
		Body:    `{"event":"draft_sent"}`,
		Headers: map[string]string{"X-Relay-Token": "s3cret"},
	})

	require.NoError(t, exec.ExecuteRemote(context.Background(), rec))
	assert.Equal(t, http.MethodPost, gotMethod, "method defaults to POST")
	assert.Equal(t, `{"event":"draft_sent"}`, gotBody)
	assert.Equal(t, "s3cret", gotHeader)
}

func TestExecuteRemoteStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		permanent bool
	}{
		{http.StatusNoContent, false, false},
		{http.StatusRequestTimeout, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusNotFound, false, true},
		{http.StatusUnprocessableEntity, false, true},
		{http.StatusInternalServerError, true, false},
		{http.StatusBadGateway, true, false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		exec := NewExecutor(server.Client(), testLogger())
		rec := newDelivery(t, Payload{URL: server.URL})
		err := exec.ExecuteRemote(context.Background(), rec)
		server.Close()

		switch {
		case !tt.transient && !tt.permanent:
			assert.NoError(t, err, "status %d", tt.status)
		case tt.transient:
			assert.ErrorIs(t, err, task.ErrRemoteTransient, "status %d", tt.status)
		default:
			assert.ErrorIs(t, err, task.ErrRemotePermanent, "status %d", tt.status)
		}
	}
}

func TestExecuteRemoteTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // connection refused from here on

	exec := NewExecutor(nil, testLogger())
	rec := newDelivery(t, Payload{URL: server.URL})
	err := exec.ExecuteRemote(context.Background(), rec)
	assert.ErrorIs(t, err, task.ErrRemoteTransient)
}

func TestExecuteRemoteMalformedPayloadIsPermanent(t *testing.T) {
	exec := NewExecutor(nil, testLogger())

	rec, err := task.New(Kind, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, exec.ExecuteRemote(context.Background(), rec), task.ErrRemotePermanent)
}

func TestTransientClassifier(t *testing.T) {
	exec := NewExecutor(nil, testLogger())

	assert.True(t, exec.Transient(task.Transient(errors.New("reset"))))
	assert.False(t, exec.Transient(task.Permanent(errors.New("gone"))))
	assert.False(t, exec.Transient(errors.New("unclassified")), "unclassified failures are not retried for deliveries")
}
