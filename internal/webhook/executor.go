// Package webhook provides the relay daemon's built-in task kind: deliver
// a JSON document to an HTTP endpoint. The local phase validates the
// delivery request; the remote phase performs it.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/phrazzld/taskrelay/internal/task"
)

// Kind is the task kind discriminator for webhook deliveries.
const Kind = "webhook_delivery"

// Payload describes one webhook delivery.
type Payload struct {
	// URL is the delivery target
	URL string `json:"url"`

	// Method defaults to POST
	Method string `json:"method,omitempty"`

	// Body is sent verbatim as the request body
	Body string `json:"body,omitempty"`

	// Headers are added to the request
	Headers map[string]string `json:"headers,omitempty"`
}

// Executor implements task.Executor for webhook deliveries.
type Executor struct {
	client *http.Client
	logger *slog.Logger
}

// NewExecutor creates a webhook executor. A nil client uses a default with
// a 30 second timeout.
func NewExecutor(client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Executor{
		client: client,
		logger: logger.With("component", "webhook_executor"),
	}
}

// ApplyLocal validates the delivery request. Deliveries have no local state
// to mutate, so validation is the whole optimistic phase.
func (e *Executor) ApplyLocal(ctx context.Context, rec task.Record) error {
	p, err := decode(rec)
	if err != nil {
		return err
	}

	u, err := url.Parse(p.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid delivery url %q", p.URL)
	}

	e.logger.Debug("delivery accepted", "task_id", rec.ID, "url", p.URL)
	return nil
}

// ExecuteRemote performs the delivery. Responses in the 2xx range succeed;
// 4xx responses (except 408 and 429) are permanent failures; everything
// else is left to the retry policy.
func (e *Executor) ExecuteRemote(ctx context.Context, rec task.Record) error {
	p, err := decode(rec)
	if err != nil {
		return task.Permanent(err)
	}

	method := p.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, p.URL, bytes.NewReader([]byte(p.Body)))
	if err != nil {
		return task.Permanent(fmt.Errorf("failed to build delivery request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return task.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return task.Transient(fmt.Errorf("delivery got status %d", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return task.Permanent(fmt.Errorf("delivery rejected with status %d", resp.StatusCode))
	default:
		return task.Transient(fmt.Errorf("delivery got status %d", resp.StatusCode))
	}
}

// Rollback logs the reversal. Deliveries apply no local state, so there is
// nothing to undo.
func (e *Executor) Rollback(ctx context.Context, rec task.Record) error {
	e.logger.Info("delivery abandoned", "task_id", rec.ID)
	return nil
}

// Transient implements task.RetryClassifier: only failures explicitly
// marked transient are retried, everything else is permanent.
func (e *Executor) Transient(err error) bool {
	return errors.Is(err, task.ErrRemoteTransient)
}

func decode(rec task.Record) (Payload, error) {
	var p Payload
	if err := rec.UnmarshalPayload(&p); err != nil {
		return Payload{}, fmt.Errorf("malformed delivery payload: %w", err)
	}
	if p.URL == "" {
		return Payload{}, errors.New("delivery payload missing url")
	}
	return p, nil
}
