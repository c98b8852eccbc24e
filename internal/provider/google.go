package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ---------------------------------------------------------------------------
// GoogleProvider struct + constructor
// ---------------------------------------------------------------------------

// GoogleProvider implements TextGeneration against Google's Gemini API.
// Gemini differs from the other text backends in three ways the adapter
// absorbs: the API key travels as a ?key= query parameter rather than a
// header, the model name is part of the URL path rather than the body,
// and message content is nested inside "parts" arrays.
type GoogleProvider struct {
	apiKey  string
	baseURL string // e.g. "https://generativelanguage.googleapis.com/v1beta"
	client  *http.Client
}

// NewGoogleProvider creates a GoogleProvider ready to make API calls.
func NewGoogleProvider(apiKey, baseURL string, client *http.Client) *GoogleProvider {
	return &GoogleProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (g *GoogleProvider) Name() string { return "google" }

func (g *GoogleProvider) Supports(service ServiceType) bool {
	return service == TextGeneration
}

// ---------------------------------------------------------------------------
// Gemini API types (unexported)
// ---------------------------------------------------------------------------

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

// geminiContent represents one message. Gemini uses "parts" (an array)
// because it supports multimodal input; for text-only we always send a
// single part.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
	ModelVersion  string               `json:"modelVersion"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

const googleDefaultModel = "gemini-2.0-flash"

// ---------------------------------------------------------------------------
// Invoke
// ---------------------------------------------------------------------------

func (g *GoogleProvider) Invoke(ctx context.Context, service ServiceType, req *Request) (*Result, error) {
	if service != TextGeneration {
		return nil, Unsupported(g.Name(), service)
	}

	model := req.Options.Model
	if model == "" {
		model = googleDefaultModel
	}

	gr := &geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Text}},
		}},
	}
	if req.Options.Temperature > 0 || req.Options.MaxTokens > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Options.Temperature,
			MaxOutputTokens: req.Options.MaxTokens,
		}
	}

	body, err := json.Marshal(gr)
	if err != nil {
		return nil, Failf(g.Name(), service, KindBadRequest, "marshaling request: %w", err)
	}

	// Model in the path, key in the query string.
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Failf(g.Name(), service, KindBadRequest, "creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, AsFailure(g.Name(), service, fmt.Errorf("sending request to google: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var errBody map[string]any
		json.NewDecoder(httpResp.Body).Decode(&errBody)
		return nil, Failf(g.Name(), service, statusKind(httpResp.StatusCode),
			"google API error (status %d): %v", httpResp.StatusCode, errBody)
	}

	var genResp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&genResp); err != nil {
		return nil, Failf(g.Name(), service, KindBadResponse, "decoding google response: %w", err)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, Failf(g.Name(), service, KindBadResponse, "response contained no candidates")
	}

	// Flatten parts back into a single string.
	var text string
	for _, part := range genResp.Candidates[0].Content.Parts {
		text += part.Text
	}

	reportedModel := genResp.ModelVersion
	if reportedModel == "" {
		reportedModel = model
	}

	var tokens int
	if genResp.UsageMetadata != nil {
		tokens = genResp.UsageMetadata.TotalTokenCount
	}

	return &Result{
		Provider: g.Name(),
		Model:    reportedModel,
		Text:     text,
		Usage:    Usage{Tokens: tokens},
	}, nil
}

// CheckHealth lists models — an unauthenticated-shaped GET that still
// validates the key, since Gemini carries it in the query string.
func (g *GoogleProvider) CheckHealth(ctx context.Context) error {
	url := fmt.Sprintf("%s/models?pageSize=1&key=%s", g.baseURL, g.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("google health probe: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("google health probe: status %d", httpResp.StatusCode)
	}
	return nil
}
