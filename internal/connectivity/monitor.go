// Package connectivity reports whether the remote service is reachable.
// The task runner parks remote-phase progression while offline and resumes
// on the next online transition.
package connectivity

import "sync"

// Monitor exposes the current online/offline state and transition
// notifications.
// Version: 1.0
type Monitor interface {
	// Online reports the current connectivity state.
	Online() bool

	// Subscribe registers a callback invoked on every state transition.
	Subscribe(fn func(online bool))
}

// Manual is a Monitor whose state is flipped explicitly. It backs tests and
// deployments that learn connectivity from an external signal.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

// NewManual creates a Manual monitor in the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

// Online implements Monitor.
func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe implements Monitor.
func (m *Manual) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline updates the state and notifies subscribers if it changed.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}
