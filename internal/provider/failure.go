package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ---------------------------------------------------------------------------
// Failure taxonomy
// ---------------------------------------------------------------------------

// The dispatcher's failover loop branches on outcome values, not on
// thrown/panicked control flow. Every failed attempt is represented by a
// *Failure carrying a kind code; the kinds exist for diagnostics and
// metrics only — the dispatcher deliberately treats every kind the same
// way when deciding whether to fall back (it always does, until the chain
// is exhausted).

// FailureKind classifies why a single provider attempt failed.
type FailureKind string

const (
	// KindTimeout — the per-attempt deadline elapsed before the
	// upstream responded.
	KindTimeout FailureKind = "timeout"
	// KindAuth — the upstream rejected our credentials (401/403).
	KindAuth FailureKind = "auth"
	// KindQuota — the upstream throttled or quota-limited us (429).
	KindQuota FailureKind = "quota"
	// KindUpstream — upstream 5xx or transport-level error.
	KindUpstream FailureKind = "upstream"
	// KindBadResponse — the upstream answered but the body could not
	// be decoded or was missing required fields.
	KindBadResponse FailureKind = "bad_response"
	// KindBadRequest — the upstream rejected the request as malformed
	// (4xx other than auth/quota).
	KindBadRequest FailureKind = "bad_request"
	// KindUnsupported — the provider does not implement the requested
	// ServiceType.
	KindUnsupported FailureKind = "unsupported_operation"
)

// Failure records one failed provider attempt. It satisfies error so
// adapters can return it directly, and the dispatcher collects them in
// chain order for the aggregate result.
type Failure struct {
	Provider string
	Service  ServiceType
	Kind     FailureKind
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s/%s: %s: %v", f.Provider, f.Service, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Failf builds a Failure with a formatted underlying error.
func Failf(name string, service ServiceType, kind FailureKind, format string, args ...any) *Failure {
	return &Failure{
		Provider: name,
		Service:  service,
		Kind:     kind,
		Err:      fmt.Errorf(format, args...),
	}
}

// Unsupported is the fail-fast outcome for a ServiceType the provider
// does not implement.
func Unsupported(name string, service ServiceType) *Failure {
	return &Failure{
		Provider: name,
		Service:  service,
		Kind:     KindUnsupported,
		Err:      fmt.Errorf("provider %q does not support %s", name, service),
	}
}

// AsFailure normalizes any error from an Invoke call into a *Failure.
// Adapters already return *Failure for the cases they can classify; this
// covers what leaks through as plain errors — most importantly context
// deadline expiry, which surfaces as a wrapped transport error when the
// per-attempt context fires mid-call.
func AsFailure(name string, service ServiceType, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	kind := KindUpstream
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindTimeout
	}

	return &Failure{Provider: name, Service: service, Kind: kind, Err: err}
}

// statusKind maps an upstream HTTP status to a failure kind. Shared by
// the adapters so a 401 from OpenAI and a 401 from Deepgram classify
// identically.
func statusKind(status int) FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindQuota
	case status >= 500:
		return KindUpstream
	default:
		return KindBadRequest
	}
}

// ---------------------------------------------------------------------------
// Aggregate failure
// ---------------------------------------------------------------------------

// ChainFailure is the terminal outcome when every entry in a service's
// provider chain failed. Failures holds one entry per attempted provider,
// in chain order, so a caller can distinguish "all providers down" from a
// single misbehaving primary.
type ChainFailure struct {
	Service  ServiceType
	Failures []*Failure
}

func (c *ChainFailure) Error() string {
	parts := make([]string, 0, len(c.Failures))
	for _, f := range c.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Provider, f.Kind))
	}
	return fmt.Sprintf("all providers failed for %s: %s",
		c.Service, strings.Join(parts, ", "))
}
