package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/fluentvoice/aigateway/internal/metrics"
	"github.com/fluentvoice/aigateway/internal/provider"
	"github.com/fluentvoice/aigateway/internal/registry"
)

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// operationBody is the superset of the three request bodies. Each service
// reads the fields it recognizes; unknown keys in the JSON are ignored
// rather than rejected, so clients can send forward-compatible options.
type operationBody struct {
	// tts + llm payloads
	Text   string `json:"text"`
	Prompt string `json:"prompt"`
	// stt payload, base64
	Audio string `json:"audio"`

	Voice       string  `json:"voice"`
	Model       string  `json:"model"`
	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type usagePayload struct {
	Characters   int     `json:"characters,omitempty"`
	AudioSeconds float64 `json:"audio_seconds,omitempty"`
	Tokens       int     `json:"tokens,omitempty"`
}

type operationResponse struct {
	Success   bool         `json:"success"`
	Provider  string       `json:"provider"`
	Model     string       `json:"model,omitempty"`
	Language  string       `json:"language,omitempty"`
	Text      string       `json:"text,omitempty"`
	Audio     string       `json:"audio,omitempty"`
	MimeType  string       `json:"mime_type,omitempty"`
	LatencyMs int64        `json:"latency_ms"`
	CostUSD   float64      `json:"cost_usd"`
	Usage     usagePayload `json:"usage"`
}

type failureEntry struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

type errorResponse struct {
	Success  bool           `json:"success"`
	Code     string         `json:"code"`
	Error    string         `json:"error"`
	Failures []failureEntry `json:"failures,omitempty"`
}

// Error codes surfaced to clients. RateLimited is deliberately distinct
// from provider failure codes so callers know to back off rather than
// retry immediately.
const (
	codeBadRequest      = "bad_request"
	codeRateLimited     = "rate_limited"
	codeNotConfigured   = "service_not_configured"
	codeAllFailed       = "all_providers_failed"
	codeRequestCanceled = "request_canceled"
)

// ---------------------------------------------------------------------------
// Operation handler
// ---------------------------------------------------------------------------

// handleOperation returns the handler for one service type. The flow is
// fixed: decode → admission check → dispatch → cost → respond.
func (s *Server) handleOperation(service provider.ServiceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body operationBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest,
				"invalid request body: "+err.Error(), nil)
			return
		}

		req, err := toRequest(service, &body)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
			return
		}

		// Admission before any provider work. A rejection here costs
		// nothing and reaches no provider.
		client := clientID(r)
		allowed, _ := s.limiter.Allow(r.Context(), client, service)
		if !allowed {
			metrics.RateLimited.WithLabelValues(service.String()).Inc()
			if limit, ok := s.limits[service]; ok {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limit.Window.Seconds())))
			}
			writeError(w, http.StatusTooManyRequests, codeRateLimited,
				fmt.Sprintf("rate limit exceeded for %s", service), nil)
			return
		}

		res, err := s.dispatcher.Execute(r.Context(), service, req)
		if err != nil {
			s.writeDispatchError(w, service, err)
			return
		}

		cost := s.accountant.Cost(res.Provider, service, res.Usage)
		metrics.RecordServed(service, res, cost)

		writeJSON(w, http.StatusOK, toResponse(res, cost))
	}
}

// toRequest validates the payload and builds the unified request.
func toRequest(service provider.ServiceType, body *operationBody) (*provider.Request, error) {
	opts := provider.Options{
		Voice:       body.Voice,
		Model:       body.Model,
		Language:    body.Language,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
	}

	switch service {
	case provider.TextToSpeech:
		if body.Text == "" {
			return nil, errors.New("missing required field: text")
		}
		return &provider.Request{Text: body.Text, Options: opts}, nil

	case provider.SpeechToText:
		if body.Audio == "" {
			return nil, errors.New("missing required field: audio")
		}
		audio, err := base64.StdEncoding.DecodeString(body.Audio)
		if err != nil {
			return nil, fmt.Errorf("audio is not valid base64: %w", err)
		}
		return &provider.Request{Audio: audio, Options: opts}, nil

	case provider.TextGeneration:
		if body.Prompt == "" {
			return nil, errors.New("missing required field: prompt")
		}
		return &provider.Request{Text: body.Prompt, Options: opts}, nil
	}

	return nil, fmt.Errorf("unknown service type %q", service)
}

func toResponse(res *provider.Result, cost float64) *operationResponse {
	out := &operationResponse{
		Success:   true,
		Provider:  res.Provider,
		Model:     res.Model,
		Language:  res.Language,
		Text:      res.Text,
		MimeType:  res.MimeType,
		LatencyMs: res.Latency.Milliseconds(),
		CostUSD:   cost,
		Usage: usagePayload{
			Characters:   res.Usage.Characters,
			AudioSeconds: res.Usage.AudioSeconds,
			Tokens:       res.Usage.Tokens,
		},
	}
	if len(res.Audio) > 0 {
		out.Audio = base64.StdEncoding.EncodeToString(res.Audio)
	}
	return out
}

// writeDispatchError maps the dispatcher's error taxonomy onto status
// codes. The caller always gets a single unambiguous outcome: 503 when
// the service has no chain, 502 with the ordered failure list when the
// chain was exhausted.
func (s *Server) writeDispatchError(w http.ResponseWriter, service provider.ServiceType, err error) {
	var confErr *registry.ConfigurationError
	if errors.As(err, &confErr) {
		writeError(w, http.StatusServiceUnavailable, codeNotConfigured, confErr.Error(), nil)
		return
	}

	var chainErr *provider.ChainFailure
	if errors.As(err, &chainErr) {
		failures := make([]failureEntry, 0, len(chainErr.Failures))
		for _, f := range chainErr.Failures {
			failures = append(failures, failureEntry{
				Provider: f.Provider,
				Kind:     string(f.Kind),
				Message:  f.Err.Error(),
			})
		}
		writeError(w, http.StatusBadGateway, codeAllFailed, chainErr.Error(), failures)
		return
	}

	// Context errors: the caller went away or the overall deadline
	// fired mid-walk. The write is best-effort at this point.
	writeError(w, http.StatusGatewayTimeout, codeRequestCanceled, err.Error(), nil)
}

// ---------------------------------------------------------------------------
// Operational surfaces
// ---------------------------------------------------------------------------

// handleHealth reports the gateway's own liveness plus the health
// monitor's current per-provider records, grouped by service chain.
// Side-effect-free: reading the snapshot never triggers probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	records := s.monitor.Snapshot()
	stats := s.registry.Stats()

	services := make(map[string]map[string]any, len(stats))
	for service, st := range stats {
		members := make(map[string]any)
		if st.Primary != "" {
			members[st.Primary] = records[st.Primary]
		}
		for _, name := range st.FallbackOrder {
			members[name] = records[name]
		}
		services[service.String()] = members
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "aigateway",
		"services": services,
	})
}

// handleStats reports the configured chains for operational visibility.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()

	out := make(map[string]registry.ServiceStats, len(stats))
	for service, st := range stats {
		out[service.String()] = st
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// clientID identifies the caller for rate limiting: the X-Client-ID
// header when present, otherwise the remote host. Opaque to everything
// below this layer.
func clientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, failures []failureEntry) {
	writeJSON(w, status, &errorResponse{
		Success:  false,
		Code:     code,
		Error:    msg,
		Failures: failures,
	})
}
