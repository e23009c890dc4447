package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Prober is a Monitor that determines connectivity by periodically probing
// an HTTP endpoint. A successful response (any status) counts as online;
// transport errors count as offline.
type Prober struct {
	state    *Manual
	client   *http.Client
	url      string
	interval time.Duration
	logger   *slog.Logger
}

// ProberConfig holds configuration for the connectivity prober.
type ProberConfig struct {
	// URL is the endpoint probed with HEAD requests
	URL string

	// Interval between probes. If zero, defaults to 15 seconds.
	Interval time.Duration

	// Timeout for a single probe. If zero, defaults to 5 seconds.
	Timeout time.Duration
}

// NewProber creates a Prober. The monitor starts offline until the first
// probe succeeds; call Start to begin probing.
func NewProber(cfg ProberConfig, logger *slog.Logger) *Prober {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Prober{
		state:    NewManual(false),
		client:   &http.Client{Timeout: cfg.Timeout},
		url:      cfg.URL,
		interval: cfg.Interval,
		logger:   logger.With("component", "connectivity_prober"),
	}
}

// Online implements Monitor.
func (p *Prober) Online() bool { return p.state.Online() }

// Subscribe implements Monitor.
func (p *Prober) Subscribe(fn func(online bool)) { p.state.Subscribe(fn) }

// Start probes immediately and then on every interval tick until the
// context is cancelled.
func (p *Prober) Start(ctx context.Context) {
	go func() {
		p.probe(ctx)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probe(ctx)
			}
		}
	}()
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Error("invalid probe request", "url", p.url, "error", err)
		return
	}

	resp, err := p.client.Do(req)
	online := err == nil
	if resp != nil {
		resp.Body.Close()
	}

	if online != p.state.Online() {
		p.logger.Info("connectivity changed", "online", online)
	}
	p.state.SetOnline(online)
}
