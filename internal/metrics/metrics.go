// Package metrics is the gateway's observability sink. Every dispatch
// attempt and every served request is recorded into Prometheus vectors,
// exposed on GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluentvoice/aigateway/internal/provider"
)

// Attempt outcomes for the requests_total counter.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	// AttemptsTotal counts individual provider attempts, including the
	// ones the dispatcher skipped on health advice.
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_attempts_total",
		Help: "Provider attempts by service, provider and outcome.",
	}, []string{"service", "provider", "outcome"})

	// AttemptDuration observes the wall-clock latency of completed
	// provider attempts (successes and failures; skips take no time).
	AttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aigateway_attempt_duration_seconds",
		Help:    "Provider attempt latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "provider"})

	// CostUSD accumulates the computed cost of served requests.
	CostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_cost_usd_total",
		Help: "Accumulated cost of served requests in USD.",
	}, []string{"service", "provider"})

	// UsageUnits accumulates billable usage by unit kind.
	UsageUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_usage_units_total",
		Help: "Billable usage units consumed, by unit kind.",
	}, []string{"service", "provider", "unit"})

	// RateLimited counts admissions rejected before dispatch.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	}, []string{"service"})
)

// ObserveAttempt records one provider attempt.
func ObserveAttempt(service provider.ServiceType, providerName, outcome string, seconds float64) {
	AttemptsTotal.WithLabelValues(service.String(), providerName, outcome).Inc()
	if outcome != OutcomeSkipped {
		AttemptDuration.WithLabelValues(service.String(), providerName).Observe(seconds)
	}
}

// RecordServed records the usage and cost of a request that reached a
// successful result.
func RecordServed(service provider.ServiceType, res *provider.Result, costUSD float64) {
	CostUSD.WithLabelValues(service.String(), res.Provider).Add(costUSD)

	switch service {
	case provider.TextToSpeech:
		UsageUnits.WithLabelValues(service.String(), res.Provider, "characters").
			Add(float64(res.Usage.Characters))
	case provider.SpeechToText:
		UsageUnits.WithLabelValues(service.String(), res.Provider, "audio_seconds").
			Add(res.Usage.AudioSeconds)
	case provider.TextGeneration:
		UsageUnits.WithLabelValues(service.String(), res.Provider, "tokens").
			Add(float64(res.Usage.Tokens))
	}
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
