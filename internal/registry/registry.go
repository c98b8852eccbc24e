// Package registry owns the per-service provider chains and the pricing
// table. It is built once at startup from config and is read-only for
// the rest of the process lifetime — the dispatcher and handlers hold a
// reference but never mutate it.
package registry

import (
	"fmt"
	"log"
	"time"

	"github.com/fluentvoice/aigateway/internal/config"
	"github.com/fluentvoice/aigateway/internal/provider"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// ConfigurationError means a service type has no usable provider chain.
// It is fatal to the request that triggered it (there is nothing to fall
// back to), and at startup it aborts the process.
type ConfigurationError struct {
	Service provider.ServiceType
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Service, e.Reason)
}

// ---------------------------------------------------------------------------
// Chain
// ---------------------------------------------------------------------------

// Chain is the ordered provider list for one service type: the primary
// followed by the fallbacks in declared order. The dispatcher walks it
// strictly in order.
type Chain struct {
	Service        provider.ServiceType
	Primary        provider.Provider
	Fallbacks      []provider.Provider
	AttemptTimeout time.Duration
	DefaultModel   string

	// Rate-limit policy for the service, carried here so the stats
	// surface can report it next to the chain.
	RateRequests int
	RateWindow   time.Duration
}

// Providers returns the chain in dispatch order: primary first, then
// fallbacks. The returned slice is shared — callers must not mutate it.
func (c *Chain) Providers() []provider.Provider {
	out := make([]provider.Provider, 0, 1+len(c.Fallbacks))
	out = append(out, c.Primary)
	out = append(out, c.Fallbacks...)
	return out
}

// PricingFn converts a usage measurement into a cost in USD. Pricing
// functions are deterministic and never fail; an unconfigured rate is a
// zero-cost function.
type PricingFn func(provider.Usage) float64

// zeroCost is the fallback for pricing gaps. Billing gaps are an
// observability problem, never a reason to fail a request.
func zeroCost(provider.Usage) float64 { return 0 }

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

type pricingKey struct {
	providerName string
	service      provider.ServiceType
}

// Registry maps each service type to its chain and holds the pricing
// table. Immutable after New.
type Registry struct {
	chains  map[provider.ServiceType]*Chain
	pricing map[pricingKey]PricingFn
}

// New builds the registry from config and the set of constructed provider
// adapters (keyed by name). It enforces the chain invariants:
//
//   - every name in a chain refers to a known provider
//   - every provider in a chain supports the chain's service type
//   - the primary never appears in its own fallback list
//   - no provider appears twice in the fallback list
//
// Disabled providers are silently dropped from chains (with a log line) —
// disabling a provider in config must not require editing every chain
// that mentions it. A chain whose every member is disabled is kept empty
// and reported as a ConfigurationError at resolve time.
func New(cfg *config.Config, providers map[string]provider.Provider) (*Registry, error) {
	r := &Registry{
		chains:  make(map[provider.ServiceType]*Chain),
		pricing: make(map[pricingKey]PricingFn),
	}

	for key, svcCfg := range cfg.Services {
		service := provider.ServiceType(key)
		if !service.Valid() {
			return nil, &ConfigurationError{Service: service, Reason: "unknown service type"}
		}
		if svcCfg.Primary == "" {
			return nil, &ConfigurationError{Service: service, Reason: "no primary provider configured"}
		}

		// Invariant checks on the declared chain, before filtering.
		seen := map[string]bool{svcCfg.Primary: true}
		for _, name := range svcCfg.Fallbacks {
			if name == svcCfg.Primary {
				return nil, &ConfigurationError{Service: service,
					Reason: fmt.Sprintf("primary %q also listed as fallback", name)}
			}
			if seen[name] {
				return nil, &ConfigurationError{Service: service,
					Reason: fmt.Sprintf("provider %q listed more than once in fallbacks", name)}
			}
			seen[name] = true
		}

		chain := &Chain{
			Service:        service,
			AttemptTimeout: svcCfg.AttemptTimeout,
			DefaultModel:   svcCfg.DefaultModel,
			RateRequests:   svcCfg.RateLimit.Requests,
			RateWindow:     svcCfg.RateLimit.Window,
		}

		ordered := append([]string{svcCfg.Primary}, svcCfg.Fallbacks...)
		for i, name := range ordered {
			p, err := lookupEnabled(cfg, providers, service, name)
			if err != nil {
				return nil, err
			}
			if p == nil {
				log.Printf("registry: %s: provider %q disabled, dropped from chain", service, name)
				continue
			}
			if i == 0 {
				chain.Primary = p
			} else if chain.Primary == nil {
				// Primary was disabled — the first enabled fallback
				// takes its place so the chain stays ordered.
				chain.Primary = p
			} else {
				chain.Fallbacks = append(chain.Fallbacks, p)
			}
		}

		r.chains[service] = chain

		if chain.Primary == nil {
			// Every member disabled: kept as an empty chain so Resolve
			// reports it per-request instead of aborting startup.
			log.Printf("registry: warning: every provider for %s is disabled", service)
			continue
		}

		// Build the pricing table for this service. Gaps are warned
		// about exactly once, here, and price to zero thereafter.
		for _, p := range chain.Providers() {
			rates, ok := svcCfg.Pricing[p.Name()]
			if !ok {
				log.Printf("registry: warning: no pricing configured for %s/%s, cost will be zero",
					p.Name(), service)
				continue
			}
			r.pricing[pricingKey{p.Name(), service}] = pricingFn(service, rates)
		}
	}

	return r, nil
}

func lookupEnabled(cfg *config.Config, providers map[string]provider.Provider,
	service provider.ServiceType, name string) (provider.Provider, error) {

	provCfg, ok := cfg.Providers[name]
	if !ok {
		return nil, &ConfigurationError{Service: service,
			Reason: fmt.Sprintf("chain references unknown provider %q", name)}
	}

	p, ok := providers[name]
	if !ok {
		return nil, &ConfigurationError{Service: service,
			Reason: fmt.Sprintf("no adapter constructed for provider %q", name)}
	}
	if !p.Supports(service) {
		return nil, &ConfigurationError{Service: service,
			Reason: fmt.Sprintf("provider %q does not support %s", name, service)}
	}

	if !provCfg.Enabled {
		return nil, nil
	}
	return p, nil
}

// pricingFn builds the unit conversion for one (service, rate) pair.
func pricingFn(service provider.ServiceType, rates config.PricingConfig) PricingFn {
	switch service {
	case provider.TextToSpeech:
		rate := rates.Per1KCharacters
		return func(u provider.Usage) float64 {
			return float64(u.Characters) / 1000 * rate
		}
	case provider.SpeechToText:
		rate := rates.PerMinute
		return func(u provider.Usage) float64 {
			return u.AudioSeconds / 60 * rate
		}
	case provider.TextGeneration:
		rate := rates.Per1KTokens
		return func(u provider.Usage) float64 {
			return float64(u.Tokens) / 1000 * rate
		}
	}
	return zeroCost
}

// Resolve returns the ordered chain for a service type. It fails with a
// ConfigurationError when the service is unconfigured or every member of
// its chain is disabled.
func (r *Registry) Resolve(service provider.ServiceType) (*Chain, error) {
	chain, ok := r.chains[service]
	if !ok {
		return nil, &ConfigurationError{Service: service, Reason: "service not configured"}
	}
	if chain.Primary == nil {
		return nil, &ConfigurationError{Service: service, Reason: "no enabled provider"}
	}
	return chain, nil
}

// PricingFor returns the pricing function for one provider under one
// service. It never fails: unknown combinations get the zero-cost
// function (the gap was already warned about at startup).
func (r *Registry) PricingFor(providerName string, service provider.ServiceType) PricingFn {
	if fn, ok := r.pricing[pricingKey{providerName, service}]; ok {
		return fn
	}
	return zeroCost
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// ServiceStats is the operational snapshot of one configured chain,
// served by GET /v1/stats.
type ServiceStats struct {
	EnabledCount   int      `json:"enabled_count"`
	Primary        string   `json:"primary"`
	FallbackOrder  []string `json:"fallback_order"`
	AttemptTimeout string   `json:"attempt_timeout"`
	RateRequests   int      `json:"rate_limit_requests"`
	RateWindow     string   `json:"rate_limit_window"`
}

// Stats reports the current chain configuration per service type.
func (r *Registry) Stats() map[provider.ServiceType]ServiceStats {
	out := make(map[provider.ServiceType]ServiceStats, len(r.chains))
	for service, chain := range r.chains {
		stats := ServiceStats{
			AttemptTimeout: chain.AttemptTimeout.String(),
			RateRequests:   chain.RateRequests,
			RateWindow:     chain.RateWindow.String(),
			FallbackOrder:  []string{},
		}
		if chain.Primary != nil {
			stats.Primary = chain.Primary.Name()
			stats.EnabledCount = 1 + len(chain.Fallbacks)
		}
		for _, p := range chain.Fallbacks {
			stats.FallbackOrder = append(stats.FallbackOrder, p.Name())
		}
		out[service] = stats
	}
	return out
}

// AllProviders returns each distinct provider that appears in any chain,
// for the health monitor to probe.
func (r *Registry) AllProviders() []provider.Provider {
	seen := make(map[string]bool)
	var out []provider.Provider
	for _, chain := range r.chains {
		if chain.Primary == nil {
			continue
		}
		for _, p := range chain.Providers() {
			if !seen[p.Name()] {
				seen[p.Name()] = true
				out = append(out, p)
			}
		}
	}
	return out
}
