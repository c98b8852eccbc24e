// Package dispatch implements the failover algorithm at the heart of the
// gateway: walk a service's provider chain in declared order, first
// success wins, collect every failure when nothing succeeds.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/fluentvoice/aigateway/internal/health"
	"github.com/fluentvoice/aigateway/internal/metrics"
	"github.com/fluentvoice/aigateway/internal/provider"
	"github.com/fluentvoice/aigateway/internal/registry"
)

// Dispatcher orchestrates provider selection and failover. It holds
// read-only references to the registry (chains) and the health monitor
// (advisory skip hints); the only state it mutates is the monitor's
// records, through Report, after each attempt.
type Dispatcher struct {
	registry *registry.Registry
	monitor  *health.Monitor
}

// New creates a Dispatcher.
func New(reg *registry.Registry, monitor *health.Monitor) *Dispatcher {
	return &Dispatcher{registry: reg, monitor: monitor}
}

// Execute runs one operation against the service's provider chain.
//
// The walk is strictly sequential in declared chain order — no parallel
// speculative attempts, no mid-request reordering — which keeps worst
// case latency bounded by the sum of per-attempt timeouts. Each attempt
// runs under the chain's per-attempt timeout; any failure, of any kind,
// moves on to the next entry. Error kinds are never special-cased when
// deciding whether to fall back: the contract is per-request resilience,
// not per-error-class policy.
//
// Providers whose health record advises skipping are passed over on the
// first walk, then attempted anyway if nothing else succeeded: health is
// an optimization hint, and a stale record must never turn into total
// service failure when the provider has in fact recovered.
//
// On success the result of the winning provider is returned and no later
// entry is attempted. On exhaustion the returned error is a
// *provider.ChainFailure listing every provider's failure in chain
// order. Caller cancellation propagates into the in-flight attempt and
// aborts the walk.
func (d *Dispatcher) Execute(ctx context.Context, service provider.ServiceType, req *provider.Request) (*provider.Result, error) {
	chain, err := d.registry.Resolve(service)
	if err != nil {
		return nil, err
	}

	// Fill in the service's default model so every adapter in the
	// chain sees the same request. Request values are immutable, so
	// apply it to a copy.
	if req.Options.Model == "" && chain.DefaultModel != "" {
		withModel := *req
		withModel.Options.Model = chain.DefaultModel
		req = &withModel
	}

	providers := chain.Providers()

	// failures is indexed by chain position so the aggregate stays in
	// chain order even though the skip pass attempts out of sequence.
	failures := make([]*provider.Failure, len(providers))
	var skipped []int

	for i, p := range providers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if d.monitor.SkipAdvised(p.Name()) {
			log.Printf("dispatch: %s: skipping %q (marked unhealthy)", service, p.Name())
			metrics.ObserveAttempt(service, p.Name(), metrics.OutcomeSkipped, 0)
			skipped = append(skipped, i)
			continue
		}

		res, fail := d.attempt(ctx, chain, p, service, req)
		if fail == nil {
			return res, nil
		}
		failures[i] = fail
	}

	// Second pass: nothing healthy succeeded, so the skip advice no
	// longer saves anything — attempt the skipped entries in chain
	// order before declaring total failure.
	for _, i := range skipped {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p := providers[i]
		log.Printf("dispatch: %s: retrying skipped provider %q", service, p.Name())

		res, fail := d.attempt(ctx, chain, p, service, req)
		if fail == nil {
			return res, nil
		}
		failures[i] = fail
	}

	ordered := make([]*provider.Failure, 0, len(providers))
	for _, f := range failures {
		if f != nil {
			ordered = append(ordered, f)
		}
	}
	return nil, &provider.ChainFailure{Service: service, Failures: ordered}
}

// attempt runs exactly one provider invocation under the per-attempt
// timeout, reports the outcome to the health monitor, and records
// metrics. No lock is held across the call — suspension here only ties
// up this request's goroutine.
func (d *Dispatcher) attempt(ctx context.Context, chain *registry.Chain, p provider.Provider,
	service provider.ServiceType, req *provider.Request) (*provider.Result, *provider.Failure) {

	attemptCtx, cancel := context.WithTimeout(ctx, chain.AttemptTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.Invoke(attemptCtx, service, req)
	elapsed := time.Since(start)

	if err != nil {
		fail := provider.AsFailure(p.Name(), service, err)
		d.monitor.Report(p.Name(), fail)
		metrics.ObserveAttempt(service, p.Name(), metrics.OutcomeFailure, elapsed.Seconds())
		log.Printf("dispatch: %s: provider %q failed (%s): %v", service, p.Name(), fail.Kind, fail.Err)
		return nil, fail
	}

	res.Latency = elapsed
	d.monitor.Report(p.Name(), nil)
	metrics.ObserveAttempt(service, p.Name(), metrics.OutcomeSuccess, elapsed.Seconds())
	return res, nil
}
