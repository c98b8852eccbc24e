package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ---------------------------------------------------------------------------
// AnthropicProvider struct + constructor
// ---------------------------------------------------------------------------

// AnthropicProvider implements TextGeneration against Anthropic's Messages
// API. Same pattern as the other adapters: translate the unified Request
// into Anthropic's format, make the HTTP call, translate back.
type AnthropicProvider struct {
	apiKey  string
	baseURL string // e.g. "https://api.anthropic.com/v1"
	client  *http.Client
}

// NewAnthropicProvider creates an AnthropicProvider ready to make API calls.
func NewAnthropicProvider(apiKey, baseURL string, client *http.Client) *AnthropicProvider {
	return &AnthropicProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (a *AnthropicProvider) Name() string { return "anthropic" }

// Supports: text generation only — Anthropic has no speech surface.
func (a *AnthropicProvider) Supports(service ServiceType) bool {
	return service == TextGeneration
}

// ---------------------------------------------------------------------------
// Anthropic API types (unexported)
// ---------------------------------------------------------------------------

// anthropicRequest is the top-level request body for /v1/messages.
//
// Quirks to remember:
//   - "max_tokens" is REQUIRED (Anthropic rejects requests without it)
//   - auth is the custom x-api-key header, not Authorization: Bearer
//   - the API version is pinned by a date-based header, not the URL path
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the top-level response from /v1/messages. Content
// is an array of blocks because responses can mix text and tool_use; for
// a plain completion we only care about the first text block.
type anthropicResponse struct {
	ID      string                  `json:"id"`
	Model   string                  `json:"model"`
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// anthropicAPIVersion pins the Anthropic API behavior; required on every
// request.
const anthropicAPIVersion = "2023-06-01"

// anthropicDefaultMaxTokens is used when the caller doesn't specify
// max_tokens. Anthropic requires the field, so we need a fallback.
const anthropicDefaultMaxTokens = 1024

const anthropicDefaultModel = "claude-3-5-haiku-latest"

// ---------------------------------------------------------------------------
// Invoke
// ---------------------------------------------------------------------------

func (a *AnthropicProvider) Invoke(ctx context.Context, service ServiceType, req *Request) (*Result, error) {
	if service != TextGeneration {
		return nil, Unsupported(a.Name(), service)
	}

	model := req.Options.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	body, err := json.Marshal(&anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Options.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Text}},
	})
	if err != nil {
		return nil, Failf(a.Name(), service, KindBadRequest, "marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, Failf(a.Name(), service, KindBadRequest, "creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, AsFailure(a.Name(), service, fmt.Errorf("sending request to anthropic: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var apiErr anthropicError
		json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return nil, Failf(a.Name(), service, statusKind(httpResp.StatusCode),
			"anthropic API error (status %d): %s", httpResp.StatusCode, apiErr.Error.Message)
	}

	var msgResp anthropicResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&msgResp); err != nil {
		return nil, Failf(a.Name(), service, KindBadResponse, "decoding anthropic response: %w", err)
	}

	// Find the first text block. For a simple completion content[0] is
	// always text, but we loop in case other block types ever lead.
	var text string
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	return &Result{
		Provider: a.Name(),
		Model:    msgResp.Model,
		Text:     text,
		Usage:    Usage{Tokens: msgResp.Usage.InputTokens + msgResp.Usage.OutputTokens},
	}, nil
}

// CheckHealth lists models with a page size of one — the cheapest
// authenticated call the Messages API family offers.
func (a *AnthropicProvider) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models?limit=1", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic health probe: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("anthropic health probe: status %d", httpResp.StatusCode)
	}
	return nil
}
