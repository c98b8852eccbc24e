// Package accounting computes the monetary cost of served requests.
//
// Cost tracking is observability, not a correctness gate: the accountant
// never fails, and a pricing gap yields zero (warned about once, at
// registry construction) rather than blocking a response.
package accounting

import (
	"github.com/fluentvoice/aigateway/internal/provider"
	"github.com/fluentvoice/aigateway/internal/registry"
)

// Accountant resolves pricing through the registry's table. It holds no
// state of its own, so Cost is a pure function of its arguments: the
// same (provider, service, usage) always prices identically.
type Accountant struct {
	registry *registry.Registry
}

// New creates an Accountant backed by the given registry.
func New(reg *registry.Registry) *Accountant {
	return &Accountant{registry: reg}
}

// Cost returns the USD cost of the given usage when served by the named
// provider under the given service type. Unknown combinations cost zero.
func (a *Accountant) Cost(providerName string, service provider.ServiceType, usage provider.Usage) float64 {
	return a.registry.PricingFor(providerName, service)(usage)
}
