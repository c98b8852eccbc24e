// Package server sets up the HTTP router, middleware, and request
// handlers — the gateway's external boundary. It translates client
// requests into dispatcher calls and dispatcher outcomes into status
// codes, recording metrics as a side effect.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fluentvoice/aigateway/internal/accounting"
	"github.com/fluentvoice/aigateway/internal/dispatch"
	"github.com/fluentvoice/aigateway/internal/health"
	"github.com/fluentvoice/aigateway/internal/metrics"
	"github.com/fluentvoice/aigateway/internal/provider"
	"github.com/fluentvoice/aigateway/internal/ratelimit"
	"github.com/fluentvoice/aigateway/internal/registry"
)

// Server holds the router and every dependency the handlers need. All of
// them are constructed once in main and injected here.
type Server struct {
	router     chi.Router
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	limiter    ratelimit.Limiter
	limits     ratelimit.Limits
	accountant *accounting.Accountant
	monitor    *health.Monitor
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(reg *registry.Registry, d *dispatch.Dispatcher, limiter ratelimit.Limiter,
	limits ratelimit.Limits, acct *accounting.Accountant, monitor *health.Monitor) *Server {

	s := &Server{
		registry:   reg,
		dispatcher: d,
		limiter:    limiter,
		limits:     limits,
		accountant: acct,
		monitor:    monitor,
	}
	s.routes()
	return s
}

// routes builds the chi router: logging and panic recovery globally,
// then one POST route per service type plus the operational surfaces.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/v1/tts", s.handleOperation(provider.TextToSpeech))
	r.Post("/v1/stt", s.handleOperation(provider.SpeechToText))
	r.Post("/v1/llm", s.handleOperation(provider.TextGeneration))

	r.Get("/health", s.handleHealth)
	r.Get("/v1/stats", s.handleStats)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler by delegating to chi.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
