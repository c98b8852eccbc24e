// Package ratelimit provides per-(client, service) admission control.
//
// Admission happens before provider selection and independently of it: a
// rejected request never reaches the dispatcher and never incurs cost.
// Two window stores are provided — an in-process map for a single
// gateway, and Redis for shared windows across replicas. Which one runs
// is a config choice made in main.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluentvoice/aigateway/internal/provider"
)

// Limit is the ceiling for one service type: at most Requests admitted
// per client per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Limits maps each service type to its ceiling. A service type without
// an entry is unlimited.
type Limits map[provider.ServiceType]Limit

// Limiter answers whether one more request from this client for this
// service should be admitted right now. Implementations must make the
// check atomic: two concurrent calls under the ceiling must not both
// admit when only one slot remains.
//
// The error return is for infrastructure trouble (e.g. Redis down);
// "over the ceiling" is the (false, nil) case, never an error.
type Limiter interface {
	Allow(ctx context.Context, clientID string, service provider.ServiceType) (bool, error)
}

// windowKey keys one counter. A client's tts quota is independent of its
// stt and llm quotas because the service type is part of the key.
func windowKey(clientID string, service provider.ServiceType) string {
	return fmt.Sprintf("%s:%s", service, clientID)
}

// ---------------------------------------------------------------------------
// In-memory fixed-window limiter
// ---------------------------------------------------------------------------

// window is one fixed counting window. Created lazily on a client's
// first request, replaced in place when it expires.
type window struct {
	count   int
	resetAt time.Time
}

// Memory is the in-process window store. A single mutex guards the map
// and makes increment-and-compare indivisible; the critical section is a
// map lookup and an integer compare, so contention is not a concern at
// gateway request rates.
type Memory struct {
	limits Limits

	mu      sync.Mutex
	windows map[string]*window
	ops     int

	// now is replaceable in tests to step through window expiry.
	now func() time.Time
}

// sweepEvery bounds how much garbage expired windows can accumulate:
// every N admissions the map is swept for dead entries.
const sweepEvery = 1024

// NewMemory creates an in-memory limiter with the given per-service
// ceilings.
func NewMemory(limits Limits) *Memory {
	return &Memory{
		limits:  limits,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow admits or rejects one request. Rejections do not consume quota:
// the counter only advances on admission, so a client hammering a full
// window is not locked out longer for it.
func (m *Memory) Allow(_ context.Context, clientID string, service provider.ServiceType) (bool, error) {
	limit, ok := m.limits[service]
	if !ok || limit.Requests <= 0 {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	m.ops++
	if m.ops%sweepEvery == 0 {
		m.sweep(now)
	}

	key := windowKey(clientID, service)
	win := m.windows[key]
	if win == nil || !now.Before(win.resetAt) {
		win = &window{resetAt: now.Add(limit.Window)}
		m.windows[key] = win
	}

	if win.count >= limit.Requests {
		return false, nil
	}
	win.count++
	return true, nil
}

// sweep drops expired windows. Caller holds the mutex.
func (m *Memory) sweep(now time.Time) {
	for key, win := range m.windows {
		if !now.Before(win.resetAt) {
			delete(m.windows, key)
		}
	}
}
