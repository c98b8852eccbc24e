// Package health tracks advisory liveness per provider.
//
// The monitor's verdicts are hints, never gates: the dispatcher uses
// them to avoid spending a timeout budget on a provider that is known to
// be down, but a stale or wrong record can never block a provider from
// being attempted when the rest of the chain is exhausted.
package health

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fluentvoice/aigateway/internal/provider"
)

// State is the per-provider liveness verdict. Providers start Unknown
// and move between Healthy and Unhealthy on probe results and observed
// dispatch outcomes.
type State string

const (
	Unknown   State = "unknown"
	Healthy   State = "healthy"
	Unhealthy State = "unhealthy"
)

// record is the monitor-owned state for one provider. Only the monitor
// writes it; readers get copies.
type record struct {
	state       State
	lastChecked time.Time
	lastError   string
}

// RecordView is the JSON-safe snapshot of one provider's record, served
// by GET /health.
type RecordView struct {
	Healthy     bool   `json:"healthy"`
	State       string `json:"state"`
	LastChecked string `json:"last_checked,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// Monitor owns the health records and refreshes them two ways: a
// periodic probe loop calling each provider's CheckHealth, and reports
// from the dispatcher after every real attempt. Concurrent reporting is
// expected; a single stale read costing one wasted attempt is an
// accepted race.
type Monitor struct {
	providers    []provider.Provider
	freshness    time.Duration
	probeTimeout time.Duration
	interval     time.Duration

	mu      sync.RWMutex
	records map[string]*record

	// now is replaceable in tests to exercise freshness expiry.
	now func() time.Time
}

// NewMonitor creates a Monitor for the given providers. Run must be
// called for periodic probing; Report works either way.
func NewMonitor(providers []provider.Provider, interval, freshness, probeTimeout time.Duration) *Monitor {
	m := &Monitor{
		providers:    providers,
		interval:     interval,
		freshness:    freshness,
		probeTimeout: probeTimeout,
		records:      make(map[string]*record, len(providers)),
		now:          time.Now,
	}
	for _, p := range providers {
		m.records[p.Name()] = &record{state: Unknown}
	}
	return m
}

// Run probes all providers immediately, then on every interval tick,
// until ctx is cancelled. Meant to be started as a goroutine from main.
func (m *Monitor) Run(ctx context.Context) {
	m.ProbeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll runs one health probe against every provider. Probes run
// sequentially — they are cheap, and a serial sweep keeps the load on
// upstreams negligible.
func (m *Monitor) ProbeAll(ctx context.Context) {
	for _, p := range m.providers {
		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		err := p.CheckHealth(probeCtx)
		cancel()

		m.Report(p.Name(), err)
		if err != nil {
			log.Printf("health: probe failed for %q: %v", p.Name(), err)
		}
	}
}

// Report records the outcome of a probe or a real dispatch attempt.
// A nil err marks the provider Healthy; anything else marks it
// Unhealthy with the error retained for the health surface.
func (m *Monitor) Report(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[name]
	if !ok {
		rec = &record{}
		m.records[name] = rec
	}

	rec.lastChecked = m.now()
	if err == nil {
		rec.state = Healthy
		rec.lastError = ""
	} else {
		rec.state = Unhealthy
		rec.lastError = err.Error()
	}
}

// SkipAdvised reports whether the dispatcher should skip this provider:
// true only when the record says Unhealthy AND was checked within the
// freshness window. Unknown, Healthy, and stale-Unhealthy records all
// advise attempting — a slow-to-update probe must never permanently
// exclude a recovered provider.
func (m *Monitor) SkipAdvised(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[name]
	if !ok {
		return false
	}
	return rec.state == Unhealthy && m.now().Sub(rec.lastChecked) < m.freshness
}

// Snapshot returns a copy of every record for the health endpoint.
// Side-effect-free: it never triggers probes.
func (m *Monitor) Snapshot() map[string]RecordView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]RecordView, len(m.records))
	for name, rec := range m.records {
		view := RecordView{
			Healthy:   rec.state == Healthy,
			State:     string(rec.state),
			LastError: rec.lastError,
		}
		if !rec.lastChecked.IsZero() {
			view.LastChecked = rec.lastChecked.UTC().Format(time.RFC3339)
		}
		out[name] = view
	}
	return out
}
