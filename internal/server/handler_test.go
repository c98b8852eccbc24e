package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fluentvoice/aigateway/internal/accounting"
	"github.com/fluentvoice/aigateway/internal/config"
	"github.com/fluentvoice/aigateway/internal/dispatch"
	"github.com/fluentvoice/aigateway/internal/health"
	"github.com/fluentvoice/aigateway/internal/provider"
	"github.com/fluentvoice/aigateway/internal/ratelimit"
	"github.com/fluentvoice/aigateway/internal/registry"
)

// scriptedProvider returns canned results or failures per service type.
type scriptedProvider struct {
	name   string
	result *provider.Result
	err    error
}

func (s *scriptedProvider) Name() string                       { return s.name }
func (s *scriptedProvider) Supports(provider.ServiceType) bool { return true }
func (s *scriptedProvider) CheckHealth(context.Context) error  { return nil }

func (s *scriptedProvider) Invoke(context.Context, provider.ServiceType, *provider.Request) (*provider.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	res.Provider = s.name
	return &res, nil
}

// newTestServer wires the full stack — real registry, dispatcher,
// limiter, accountant, monitor — around scripted providers, the way
// main does in production.
func newTestServer(t *testing.T, primary, fallback *scriptedProvider, rateCeiling int) *Server {
	t.Helper()

	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			primary.name:  {Enabled: true},
			fallback.name: {Enabled: true},
		},
		Services: map[string]config.ServiceConfig{},
	}
	pricing := map[string]config.PricingConfig{
		primary.name:  {Per1KCharacters: 0.015, PerMinute: 0.006, Per1KTokens: 0.004},
		fallback.name: {Per1KCharacters: 0.030, PerMinute: 0.006, Per1KTokens: 0.004},
	}
	for _, svc := range []string{"tts", "stt", "llm"} {
		cfg.Services[svc] = config.ServiceConfig{
			Primary:        primary.name,
			Fallbacks:      []string{fallback.name},
			AttemptTimeout: time.Second,
			RateLimit:      config.RateLimitConfig{Requests: rateCeiling, Window: time.Minute},
			Pricing:        pricing,
		}
	}

	reg, err := registry.New(cfg, map[string]provider.Provider{
		primary.name:  primary,
		fallback.name: fallback,
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}

	limits := ratelimit.Limits{
		provider.TextToSpeech:   {Requests: rateCeiling, Window: time.Minute},
		provider.SpeechToText:   {Requests: rateCeiling, Window: time.Minute},
		provider.TextGeneration: {Requests: rateCeiling, Window: time.Minute},
	}
	monitor := health.NewMonitor(reg.AllProviders(), time.Hour, time.Minute, time.Second)

	return New(reg, dispatch.New(reg, monitor), ratelimit.NewMemory(limits), limits,
		accounting.New(reg), monitor)
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("X-Client-ID", "test-client")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestTTSSuccess(t *testing.T) {
	primary := &scriptedProvider{name: "a", result: &provider.Result{
		Model:    "voice-model",
		Audio:    []byte("fake-mp3-bytes"),
		MimeType: "audio/mpeg",
		Usage:    provider.Usage{Characters: 500},
	}}
	fallback := &scriptedProvider{name: "b", result: &provider.Result{}}
	srv := newTestServer(t, primary, fallback, 100)

	w := postJSON(t, srv, "/v1/tts", map[string]any{"text": "hello world"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var resp operationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if resp.Provider != "a" {
		t.Errorf("provider = %q, want %q", resp.Provider, "a")
	}
	// 500 chars at $0.015/1K.
	if resp.CostUSD < 0.00749 || resp.CostUSD > 0.00751 {
		t.Errorf("cost = %v, want 0.0075", resp.CostUSD)
	}
	audio, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil || string(audio) != "fake-mp3-bytes" {
		t.Errorf("audio did not round-trip through base64: %v", err)
	}
}

func TestFallbackServesAfterPrimaryFailure(t *testing.T) {
	primary := &scriptedProvider{name: "a",
		err: provider.Failf("a", provider.SpeechToText, provider.KindTimeout, "deadline")}
	fallback := &scriptedProvider{name: "b", result: &provider.Result{
		Text:     "transcribed words",
		Language: "en",
		Usage:    provider.Usage{AudioSeconds: 30},
	}}
	srv := newTestServer(t, primary, fallback, 100)

	audio := base64.StdEncoding.EncodeToString([]byte("wav-bytes"))
	w := postJSON(t, srv, "/v1/stt", map[string]any{"audio": audio})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var resp operationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Provider != "b" {
		t.Errorf("provider = %q, want fallback %q", resp.Provider, "b")
	}
	if resp.Text != "transcribed words" {
		t.Errorf("text = %q, want transcript from fallback", resp.Text)
	}
	// 30 seconds at $0.006/minute.
	if resp.CostUSD < 0.00299 || resp.CostUSD > 0.00301 {
		t.Errorf("cost = %v, want 0.003", resp.CostUSD)
	}
}

func TestAllProvidersFailedIs502WithOrderedFailures(t *testing.T) {
	primary := &scriptedProvider{name: "a",
		err: provider.Failf("a", provider.TextGeneration, provider.KindUpstream, "500")}
	fallback := &scriptedProvider{name: "b",
		err: provider.Failf("b", provider.TextGeneration, provider.KindAuth, "401")}
	srv := newTestServer(t, primary, fallback, 100)

	w := postJSON(t, srv, "/v1/llm", map[string]any{"prompt": "hi"})

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}

	var resp errorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != codeAllFailed {
		t.Errorf("code = %q, want %q", resp.Code, codeAllFailed)
	}
	if len(resp.Failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(resp.Failures))
	}
	if resp.Failures[0].Provider != "a" || resp.Failures[1].Provider != "b" {
		t.Errorf("failure order = [%s, %s], want [a, b]",
			resp.Failures[0].Provider, resp.Failures[1].Provider)
	}
}

func TestRateLimitedIsDistinctOutcome(t *testing.T) {
	primary := &scriptedProvider{name: "a", result: &provider.Result{
		Text: "ok", Usage: provider.Usage{Tokens: 1},
	}}
	fallback := &scriptedProvider{name: "b", result: &provider.Result{}}
	srv := newTestServer(t, primary, fallback, 5)

	for i := 0; i < 5; i++ {
		w := postJSON(t, srv, "/v1/llm", map[string]any{"prompt": "hi"})
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := postJSON(t, srv, "/v1/llm", map[string]any{"prompt": "hi"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("6th request: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 should carry Retry-After")
	}

	var resp errorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != codeRateLimited {
		t.Errorf("code = %q, want %q (never conflated with provider failure)",
			resp.Code, codeRateLimited)
	}

	// No provider was contacted for the rejected request.
	// Rate limiting on llm must not affect tts for the same client.
	w = postJSON(t, srv, "/v1/tts", map[string]any{"text": "still fine"})
	if w.Code != http.StatusOK {
		t.Errorf("tts after llm exhaustion: status = %d, want 200", w.Code)
	}
}

func TestMissingPayloadIs400(t *testing.T) {
	primary := &scriptedProvider{name: "a", result: &provider.Result{}}
	fallback := &scriptedProvider{name: "b", result: &provider.Result{}}
	srv := newTestServer(t, primary, fallback, 100)

	cases := []struct {
		path string
		body map[string]any
	}{
		{"/v1/tts", map[string]any{"voice": "alloy"}},
		{"/v1/stt", map[string]any{"language": "en"}},
		{"/v1/llm", map[string]any{"temperature": 0.5}},
		{"/v1/stt", map[string]any{"audio": "not!!base64"}},
	}
	for _, tc := range cases {
		w := postJSON(t, srv, tc.path, tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s with %v: status = %d, want 400", tc.path, tc.body, w.Code)
		}
	}
}

func TestUnknownOptionKeysIgnored(t *testing.T) {
	primary := &scriptedProvider{name: "a", result: &provider.Result{
		Text: "ok", Usage: provider.Usage{Tokens: 1},
	}}
	fallback := &scriptedProvider{name: "b", result: &provider.Result{}}
	srv := newTestServer(t, primary, fallback, 100)

	w := postJSON(t, srv, "/v1/llm", map[string]any{
		"prompt":          "hi",
		"future_option":   true,
		"another_unknown": map[string]any{"nested": 1},
	})
	if w.Code != http.StatusOK {
		t.Errorf("unknown keys must be ignored: status = %d, want 200", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	primary := &scriptedProvider{name: "a", result: &provider.Result{}}
	fallback := &scriptedProvider{name: "b", result: &provider.Result{}}
	srv := newTestServer(t, primary, fallback, 100)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Status   string                                  `json:"status"`
		Services map[string]map[string]health.RecordView `json:"services"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	llm, ok := resp.Services["llm"]
	if !ok {
		t.Fatal("llm service missing from health snapshot")
	}
	if _, ok := llm["a"]; !ok {
		t.Error("primary provider missing from llm health entry")
	}
	if _, ok := llm["b"]; !ok {
		t.Error("fallback provider missing from llm health entry")
	}
}

func TestStatsEndpoint(t *testing.T) {
	primary := &scriptedProvider{name: "a", result: &provider.Result{}}
	fallback := &scriptedProvider{name: "b", result: &provider.Result{}}
	srv := newTestServer(t, primary, fallback, 100)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]registry.ServiceStats
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	stats, ok := resp["tts"]
	if !ok {
		t.Fatal("tts missing from stats")
	}
	if stats.Primary != "a" {
		t.Errorf("primary = %q, want a", stats.Primary)
	}
	if len(stats.FallbackOrder) != 1 || stats.FallbackOrder[0] != "b" {
		t.Errorf("fallback order = %v, want [b]", stats.FallbackOrder)
	}
	if stats.EnabledCount != 2 {
		t.Errorf("enabled count = %d, want 2", stats.EnabledCount)
	}
}
