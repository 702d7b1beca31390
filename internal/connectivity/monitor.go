// Package connectivity normalizes platform network signals into a single
// online/offline boolean plus an edge-triggered "became online" event.
// Signals arrive two ways: pushed (the platform reports a status change to
// the agent's HTTP API) and polled (a periodic probe against the remote
// store, covering platforms that push nothing).
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober answers whether the remote backend is reachable right now.
type Prober interface {
	Online(ctx context.Context) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

// Online implements Prober.
func (f ProberFunc) Online(ctx context.Context) bool { return f(ctx) }

// Monitor tracks the current connectivity status and notifies subscribers on
// the offline→online edge only — flapping from online to online never
// re-fires, so a subscriber like the sync engine is not re-triggered by
// repeated "still connected" reports.
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	online   bool
	onOnline []func()
}

// NewMonitor builds a Monitor that assumes offline until told (or until the
// first probe says) otherwise. Assuming offline at boot is the safe default:
// the worst case is one redundant local write later reconciled by sync.
func NewMonitor(p Prober, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{prober: p, interval: interval, log: log}
}

// Online reports the last observed status.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers fn to run each time the status transitions from offline
// to online. fn runs on the goroutine that reported the transition, so it
// should be quick or spawn its own work.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// SetStatus records a pushed status report. Used by the HTTP boundary when
// the platform's network plugin reports a change.
func (m *Monitor) SetStatus(connected bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = connected
	var fns []func()
	if connected && !wasOnline {
		fns = append(fns, m.onOnline...)
	}
	m.mu.Unlock()

	if connected != wasOnline {
		m.log.Info("connectivity changed", "online", connected)
	}
	for _, fn := range fns {
		fn()
	}
}

// Run probes periodically until ctx is cancelled. Pushed reports via
// SetStatus and polled probes feed the same edge detection, so overlap
// between the two cannot double-fire subscribers.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	m.SetStatus(m.prober.Online(probeCtx))
}
