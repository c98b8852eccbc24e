package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fluentvoice/aigateway/internal/provider"
)

// probeProvider fails or passes health checks on command.
type probeProvider struct {
	name string
	err  error
}

func (p *probeProvider) Name() string                       { return p.name }
func (p *probeProvider) Supports(provider.ServiceType) bool { return true }
func (p *probeProvider) CheckHealth(context.Context) error  { return p.err }

func (p *probeProvider) Invoke(context.Context, provider.ServiceType, *provider.Request) (*provider.Result, error) {
	panic("health tests never invoke")
}

func newTestMonitor(providers ...provider.Provider) (*Monitor, *time.Time) {
	m := NewMonitor(providers, time.Hour, time.Minute, time.Second)
	now := time.Unix(5000, 0)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestStartsUnknown(t *testing.T) {
	m, _ := newTestMonitor(&probeProvider{name: "a"})

	snap := m.Snapshot()
	rec, ok := snap["a"]
	if !ok {
		t.Fatal("provider missing from snapshot")
	}
	if rec.State != string(Unknown) {
		t.Errorf("initial state = %q, want %q", rec.State, Unknown)
	}
	if m.SkipAdvised("a") {
		t.Error("Unknown state must not advise skipping")
	}
}

func TestProbeTransitions(t *testing.T) {
	p := &probeProvider{name: "a"}
	m, _ := newTestMonitor(p)

	m.ProbeAll(context.Background())
	if snap := m.Snapshot()["a"]; !snap.Healthy {
		t.Errorf("after passing probe: healthy = false, want true")
	}

	p.err = errors.New("connection refused")
	m.ProbeAll(context.Background())
	snap := m.Snapshot()["a"]
	if snap.Healthy {
		t.Error("after failing probe: healthy = true, want false")
	}
	if snap.LastError == "" {
		t.Error("failing probe should retain the error")
	}

	p.err = nil
	m.ProbeAll(context.Background())
	snap = m.Snapshot()["a"]
	if !snap.Healthy {
		t.Error("recovered probe should flip back to healthy")
	}
	if snap.LastError != "" {
		t.Errorf("recovery should clear last error, got %q", snap.LastError)
	}
}

func TestSkipAdvisedOnlyWhenFresh(t *testing.T) {
	m, now := newTestMonitor(&probeProvider{name: "a"})

	m.Report("a", errors.New("down"))
	if !m.SkipAdvised("a") {
		t.Fatal("fresh Unhealthy record should advise skipping")
	}

	// Past the freshness window the record is ignored: a recovered
	// provider must not stay excluded on stale information.
	*now = now.Add(2 * time.Minute)
	if m.SkipAdvised("a") {
		t.Error("stale Unhealthy record must not advise skipping")
	}
}

func TestHealthyNeverAdvisesSkip(t *testing.T) {
	m, _ := newTestMonitor(&probeProvider{name: "a"})

	m.Report("a", nil)
	if m.SkipAdvised("a") {
		t.Error("Healthy record must not advise skipping")
	}
}

func TestReportUnknownProviderCreatesRecord(t *testing.T) {
	m, _ := newTestMonitor()

	m.Report("late", errors.New("down"))
	if !m.SkipAdvised("late") {
		t.Error("record created on first report should advise skipping")
	}
}

func TestUntrackedProviderNotSkipped(t *testing.T) {
	m, _ := newTestMonitor()
	if m.SkipAdvised("nobody") {
		t.Error("provider with no record must not be skipped")
	}
}
