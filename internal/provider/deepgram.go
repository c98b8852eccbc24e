package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ---------------------------------------------------------------------------
// DeepgramProvider struct + constructor
// ---------------------------------------------------------------------------

// DeepgramProvider implements SpeechToText against Deepgram's listen API.
// Unlike OpenAI's multipart upload, Deepgram takes the raw audio bytes as
// the request body with transcription options in the query string, and
// authenticates with "Authorization: Token <key>".
type DeepgramProvider struct {
	apiKey  string
	baseURL string // e.g. "https://api.deepgram.com/v1"
	client  *http.Client
}

// NewDeepgramProvider creates a DeepgramProvider ready to make API calls.
func NewDeepgramProvider(apiKey, baseURL string, client *http.Client) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (d *DeepgramProvider) Name() string { return "deepgram" }

func (d *DeepgramProvider) Supports(service ServiceType) bool {
	return service == SpeechToText
}

// ---------------------------------------------------------------------------
// Deepgram API types (unexported)
// ---------------------------------------------------------------------------

// deepgramResponse mirrors the parts of the listen response we use: the
// first alternative of the first channel, plus the duration from the
// metadata block (our billable unit).
type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
			DetectedLanguage string `json:"detected_language"`
		} `json:"channels"`
	} `json:"results"`
}

type deepgramError struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

const deepgramDefaultModel = "nova-2"

// ---------------------------------------------------------------------------
// Invoke
// ---------------------------------------------------------------------------

func (d *DeepgramProvider) Invoke(ctx context.Context, service ServiceType, req *Request) (*Result, error) {
	if service != SpeechToText {
		return nil, Unsupported(d.Name(), service)
	}

	model := req.Options.Model
	if model == "" {
		model = deepgramDefaultModel
	}

	q := url.Values{}
	q.Set("model", model)
	if req.Options.Language != "" {
		q.Set("language", req.Options.Language)
	} else {
		q.Set("detect_language", "true")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/listen?"+q.Encode(), bytes.NewReader(req.Audio))
	if err != nil {
		return nil, Failf(d.Name(), service, KindBadRequest, "creating request: %w", err)
	}
	// Deepgram sniffs the container format from the bytes; a generic
	// audio content type is sufficient.
	httpReq.Header.Set("Content-Type", "audio/*")
	httpReq.Header.Set("Authorization", "Token "+d.apiKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, AsFailure(d.Name(), service, fmt.Errorf("sending request to deepgram: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var apiErr deepgramError
		json.NewDecoder(httpResp.Body).Decode(&apiErr)
		return nil, Failf(d.Name(), service, statusKind(httpResp.StatusCode),
			"deepgram API error (status %d): %s %s", httpResp.StatusCode, apiErr.ErrCode, apiErr.ErrMsg)
	}

	var listenResp deepgramResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&listenResp); err != nil {
		return nil, Failf(d.Name(), service, KindBadResponse, "decoding deepgram response: %w", err)
	}
	if len(listenResp.Results.Channels) == 0 || len(listenResp.Results.Channels[0].Alternatives) == 0 {
		return nil, Failf(d.Name(), service, KindBadResponse, "response contained no transcript")
	}

	channel := listenResp.Results.Channels[0]
	language := req.Options.Language
	if language == "" {
		language = channel.DetectedLanguage
	}

	return &Result{
		Provider: d.Name(),
		Model:    model,
		Text:     channel.Alternatives[0].Transcript,
		Language: language,
		Usage:    Usage{AudioSeconds: listenResp.Metadata.Duration},
	}, nil
}

// CheckHealth asks for the authenticated project list. Deepgram has no
// dedicated ping endpoint; any 2xx here proves reachability and a valid
// key.
func (d *DeepgramProvider) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/projects", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Token "+d.apiKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("deepgram health probe: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("deepgram health probe: status %d", httpResp.StatusCode)
	}
	return nil
}
