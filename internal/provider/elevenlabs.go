package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ---------------------------------------------------------------------------
// ElevenLabsProvider struct + constructor
// ---------------------------------------------------------------------------

// ElevenLabsProvider implements TextToSpeech against the ElevenLabs API.
// Its oddities relative to the other adapters: the voice is part of the
// URL path (not the body), and auth uses the vendor's xi-api-key header.
type ElevenLabsProvider struct {
	apiKey  string
	baseURL string // e.g. "https://api.elevenlabs.io/v1"
	client  *http.Client
}

// NewElevenLabsProvider creates an ElevenLabsProvider ready to make API
// calls.
func NewElevenLabsProvider(apiKey, baseURL string, client *http.Client) *ElevenLabsProvider {
	return &ElevenLabsProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (e *ElevenLabsProvider) Name() string { return "elevenlabs" }

func (e *ElevenLabsProvider) Supports(service ServiceType) bool {
	return service == TextToSpeech
}

// ---------------------------------------------------------------------------
// ElevenLabs API types (unexported)
// ---------------------------------------------------------------------------

type elevenlabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

type elevenlabsError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

const (
	elevenlabsDefaultModel = "eleven_multilingual_v2"
	// elevenlabsDefaultVoice is "Rachel", the vendor's stock voice.
	elevenlabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM"
)

// ---------------------------------------------------------------------------
// Invoke
// ---------------------------------------------------------------------------

func (e *ElevenLabsProvider) Invoke(ctx context.Context, service ServiceType, req *Request) (*Result, error) {
	if service != TextToSpeech {
		return nil, Unsupported(e.Name(), service)
	}

	model := req.Options.Model
	if model == "" {
		model = elevenlabsDefaultModel
	}
	voice := req.Options.Voice
	if voice == "" {
		voice = elevenlabsDefaultVoice
	}

	body, err := json.Marshal(&elevenlabsRequest{Text: req.Text, ModelID: model})
	if err != nil {
		return nil, Failf(e.Name(), service, KindBadRequest, "marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=mp3_44100_128", e.baseURL, voice)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Failf(e.Name(), service, KindBadRequest, "creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", e.apiKey)

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, AsFailure(e.Name(), service, fmt.Errorf("sending request to elevenlabs: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var apiErr elevenlabsError
		json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return nil, Failf(e.Name(), service, statusKind(httpResp.StatusCode),
			"elevenlabs API error (status %d): %s", httpResp.StatusCode, apiErr.Detail.Message)
	}

	audio, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, Failf(e.Name(), service, KindBadResponse, "reading audio body: %w", err)
	}

	return &Result{
		Provider: e.Name(),
		Model:    model,
		Audio:    audio,
		MimeType: "audio/mpeg",
		Usage:    Usage{Characters: len([]rune(req.Text))},
	}, nil
}

// CheckHealth lists voices, which is the vendor's lightest authenticated
// read.
func (e *ElevenLabsProvider) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/voices", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("xi-api-key", e.apiKey)

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("elevenlabs health probe: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("elevenlabs health probe: status %d", httpResp.StatusCode)
	}
	return nil
}
