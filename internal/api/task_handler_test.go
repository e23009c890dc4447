package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskrelay/internal/task"
)

// memorySource is an in-memory task.Source with synchronous notifications,
// enough to drive the engine under the handler.
type memorySource struct {
	mu      sync.Mutex
	records map[uuid.UUID]task.Record
	subs    []func([]task.Record)
}

func newMemorySource() *memorySource {
	return &memorySource{records: make(map[uuid.UUID]task.Record)}
}

func (s *memorySource) Subscribe(fn func([]task.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *memorySource) Snapshot(_ context.Context) ([]task.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (s *memorySource) Upsert(_ context.Context, rec task.Record) error {
	s.mu.Lock()
	s.records[rec.ID] = rec.Clone()
	records := s.snapshotLocked()
	subs := s.subs
	s.mu.Unlock()
	for _, fn := range subs {
		fn(records)
	}
	return nil
}

func (s *memorySource) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	delete(s.records, id)
	records := s.snapshotLocked()
	subs := s.subs
	s.mu.Unlock()
	for _, fn := range subs {
		fn(records)
	}
	return nil
}

func (s *memorySource) snapshotLocked() []task.Record {
	out := make([]task.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func setupHandler(t *testing.T) (*task.Engine, *memorySource, http.Handler) {
	t.Helper()

	source := newMemorySource()
	engine := task.NewEngine(source, nil, testLogger())
	handler := NewTaskHandler(engine, testLogger())

	r := chi.NewRouter()
	r.Post("/api/tasks", handler.CreateTask)
	r.Delete("/api/tasks", handler.DequeueTasks)
	r.Get("/api/tasks", handler.ListTasks)
	r.Get("/api/tasks/{id}", handler.GetTask)
	r.Get("/api/tasks/{id}/wait", handler.WaitTask)

	return engine, source, r
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	engine, source, h := setupHandler(t)

	dep, err := engine.Enqueue(context.Background(), "SaveDraftTask", nil)
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/tasks", CreateTaskRequest{
		Kind:      "SendDraftTask",
		Payload:   json.RawMessage(`{"headerMessageId":"123"}`),
		DependsOn: []string{dep.String()},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp["id"])
	require.NoError(t, err)

	persisted, err := source.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 2)

	got, ok := engine.Get(id)
	require.True(t, ok)
	assert.Equal(t, "SendDraftTask", got.Kind)
	assert.Equal(t, []uuid.UUID{dep}, got.DependsOn)
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestCreateTaskValidation(t *testing.T) {
	_, _, h := setupHandler(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing kind", CreateTaskRequest{Payload: json.RawMessage(`{}`)}},
		{"malformed dependency", CreateTaskRequest{Kind: "k", DependsOn: []string{"nope"}}},
		{"not json", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListTasks(t *testing.T) {
	engine, source, h := setupHandler(t)
	ctx := context.Background()

	queuedID, err := engine.Enqueue(ctx, "SaveDraftTask", nil)
	require.NoError(t, err)

	done, err := task.New("SendDraftTask", nil)
	require.NoError(t, err)
	done.Status = task.StatusComplete
	require.NoError(t, source.Upsert(ctx, done))

	decode := func(rec *httptest.ResponseRecorder) []TaskResponse {
		var out []TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	rec := doJSON(t, h, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode(rec)
	require.Len(t, queue, 1)
	assert.Equal(t, queuedID.String(), queue[0].ID)

	rec = doJSON(t, h, http.MethodGet, "/api/tasks?scope=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	completed := decode(rec)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID.String(), completed[0].ID)

	rec = doJSON(t, h, http.MethodGet, "/api/tasks?scope=all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(rec), 2)

	rec = doJSON(t, h, http.MethodGet, "/api/tasks?scope=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTask(t *testing.T) {
	engine, _, h := setupHandler(t)

	id, err := engine.Enqueue(context.Background(), "SaveDraftTask", map[string]string{"threadId": "t1"})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/api/tasks/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id.String(), resp.ID)
	assert.Equal(t, "SaveDraftTask", resp.Kind)

	rec = doJSON(t, h, http.MethodGet, "/api/tasks/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWaitTask(t *testing.T) {
	engine, source, h := setupHandler(t)
	ctx := context.Background()

	id, err := engine.Enqueue(ctx, "SendDraftTask", nil)
	require.NoError(t, err)

	// Local wait resolves immediately: the record exists.
	rec := doJSON(t, h, http.MethodGet, "/api/tasks/"+id.String()+"/wait?phase=local", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Remote wait blocks until the record settles; drive the transition
	// from a second goroutine.
	go func() {
		time.Sleep(20 * time.Millisecond)
		settled, _ := engine.Get(id)
		settled.Status = task.StatusComplete
		_ = source.Upsert(ctx, settled)
	}()

	rec = doJSON(t, h, http.MethodGet, "/api/tasks/"+id.String()+"/wait", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(task.StatusComplete), resp.Status)
}

func TestWaitTaskTimesOutWithRequestContext(t *testing.T) {
	_, _, h := setupHandler(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+uuid.New().String()+"/wait", nil)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
}

func TestDequeueTasks(t *testing.T) {
	engine, _, h := setupHandler(t)
	ctx := context.Background()

	_, err := engine.Enqueue(ctx, "SaveDraftTask", map[string]string{"threadId": "t1"})
	require.NoError(t, err)
	keep, err := engine.Enqueue(ctx, "SaveDraftTask", map[string]string{"threadId": "t2"})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodDelete, "/api/tasks", DequeueRequest{
		Kind:  "SaveDraftTask",
		Match: map[string]any{"threadId": "t1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["removed"])

	remaining := engine.Queued()
	require.Len(t, remaining, 1)
	assert.Equal(t, keep, remaining[0].ID)
}

func TestDequeueTasksValidation(t *testing.T) {
	_, _, h := setupHandler(t)

	rec := doJSON(t, h, http.MethodDelete, "/api/tasks", DequeueRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
