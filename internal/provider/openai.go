package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// ---------------------------------------------------------------------------
// OpenAIProvider struct + constructor
// ---------------------------------------------------------------------------

// OpenAIProvider implements all three service types against OpenAI's API:
// chat completions for text generation, /audio/speech for synthesis, and
// /audio/transcriptions for transcription. It is the only adapter with
// the full capability set, which makes it the usual fallback in every
// chain.
type OpenAIProvider struct {
	apiKey  string
	baseURL string // e.g. "https://api.openai.com/v1"
	client  *http.Client
}

// NewOpenAIProvider creates an OpenAIProvider ready to make API calls.
// The *http.Client is injected so main.go controls transport settings
// and tests can point the adapter at an httptest server.
func NewOpenAIProvider(apiKey, baseURL string, client *http.Client) *OpenAIProvider {
	return &OpenAIProvider{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (o *OpenAIProvider) Name() string { return "openai" }

// Supports reports the full capability set.
func (o *OpenAIProvider) Supports(service ServiceType) bool {
	return service.Valid()
}

// Invoke routes to the per-service implementation. The ServiceType switch
// is exhaustive over the closed set; anything else fails fast.
func (o *OpenAIProvider) Invoke(ctx context.Context, service ServiceType, req *Request) (*Result, error) {
	switch service {
	case TextGeneration:
		return o.generate(ctx, req)
	case TextToSpeech:
		return o.speech(ctx, req)
	case SpeechToText:
		return o.transcribe(ctx, req)
	default:
		return nil, Unsupported(o.Name(), service)
	}
}

// CheckHealth lists models, the cheapest authenticated read the API
// offers. Any 2xx means reachable and credentialed.
func (o *OpenAIProvider) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai health probe: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("openai health probe: status %d", httpResp.StatusCode)
	}
	return nil
}

// ---------------------------------------------------------------------------
// OpenAI API types (unexported)
// ---------------------------------------------------------------------------

// --- Chat completions ---

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Message openaiMessage `json:"message"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Speech synthesis ---

type openaiSpeechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// --- Transcription ---

// openaiTranscription is the verbose_json response shape. We ask for
// verbose_json specifically because the plain json shape omits the audio
// duration, and duration is our billable unit for speech-to-text.
type openaiTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// openaiError is the error envelope OpenAI wraps non-2xx bodies in.
type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Defaults used when the caller doesn't pick a model or voice.
const (
	openaiDefaultChatModel   = "gpt-4o-mini"
	openaiDefaultSpeechModel = "gpt-4o-mini-tts"
	openaiDefaultSTTModel    = "whisper-1"
	openaiDefaultVoice       = "alloy"
)

// ---------------------------------------------------------------------------
// Text generation
// ---------------------------------------------------------------------------

func (o *OpenAIProvider) generate(ctx context.Context, req *Request) (*Result, error) {
	model := req.Options.Model
	if model == "" {
		model = openaiDefaultChatModel
	}

	body, err := json.Marshal(&openaiChatRequest{
		Model:       model,
		Messages:    []openaiMessage{{Role: "user", Content: req.Text}},
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.MaxTokens,
	})
	if err != nil {
		return nil, Failf(o.Name(), TextGeneration, KindBadRequest, "marshaling request: %w", err)
	}

	httpResp, err := o.post(ctx, "/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, AsFailure(o.Name(), TextGeneration, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, o.apiFailure(TextGeneration, httpResp)
	}

	var chatResp openaiChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, Failf(o.Name(), TextGeneration, KindBadResponse, "decoding response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, Failf(o.Name(), TextGeneration, KindBadResponse, "response contained no choices")
	}

	return &Result{
		Provider: o.Name(),
		Model:    chatResp.Model,
		Text:     chatResp.Choices[0].Message.Content,
		Usage:    Usage{Tokens: chatResp.Usage.TotalTokens},
	}, nil
}

// ---------------------------------------------------------------------------
// Text to speech
// ---------------------------------------------------------------------------

func (o *OpenAIProvider) speech(ctx context.Context, req *Request) (*Result, error) {
	model := req.Options.Model
	if model == "" {
		model = openaiDefaultSpeechModel
	}
	voice := req.Options.Voice
	if voice == "" {
		voice = openaiDefaultVoice
	}

	body, err := json.Marshal(&openaiSpeechRequest{
		Model:          model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, Failf(o.Name(), TextToSpeech, KindBadRequest, "marshaling request: %w", err)
	}

	httpResp, err := o.post(ctx, "/audio/speech", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, AsFailure(o.Name(), TextToSpeech, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, o.apiFailure(TextToSpeech, httpResp)
	}

	// The speech endpoint returns raw audio bytes, not JSON.
	audio, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, Failf(o.Name(), TextToSpeech, KindBadResponse, "reading audio body: %w", err)
	}

	return &Result{
		Provider: o.Name(),
		Model:    model,
		Audio:    audio,
		MimeType: "audio/mpeg",
		// Synthesis is billed per input character.
		Usage: Usage{Characters: len([]rune(req.Text))},
	}, nil
}

// ---------------------------------------------------------------------------
// Speech to text
// ---------------------------------------------------------------------------

func (o *OpenAIProvider) transcribe(ctx context.Context, req *Request) (*Result, error) {
	model := req.Options.Model
	if model == "" {
		model = openaiDefaultSTTModel
	}

	// Transcription is a multipart upload: the audio file plus form
	// fields for model/language/response_format.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, Failf(o.Name(), SpeechToText, KindBadRequest, "building multipart body: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, Failf(o.Name(), SpeechToText, KindBadRequest, "writing audio part: %w", err)
	}
	mw.WriteField("model", model)
	mw.WriteField("response_format", "verbose_json")
	if req.Options.Language != "" {
		mw.WriteField("language", req.Options.Language)
	}
	if err := mw.Close(); err != nil {
		return nil, Failf(o.Name(), SpeechToText, KindBadRequest, "finalizing multipart body: %w", err)
	}

	httpResp, err := o.post(ctx, "/audio/transcriptions", mw.FormDataContentType(), &buf)
	if err != nil {
		return nil, AsFailure(o.Name(), SpeechToText, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, o.apiFailure(SpeechToText, httpResp)
	}

	var tr openaiTranscription
	if err := json.NewDecoder(httpResp.Body).Decode(&tr); err != nil {
		return nil, Failf(o.Name(), SpeechToText, KindBadResponse, "decoding response: %w", err)
	}

	return &Result{
		Provider: o.Name(),
		Model:    model,
		Text:     tr.Text,
		Language: tr.Language,
		Usage:    Usage{AudioSeconds: tr.Duration},
	}, nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

// post builds and sends an authenticated POST to path under the base URL.
func (o *OpenAIProvider) post(ctx context.Context, path, contentType string, body io.Reader) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to openai: %w", err)
	}
	return httpResp, nil
}

// apiFailure drains a non-2xx response into a classified Failure. The
// body is read best-effort: a failure to parse the error envelope still
// produces a useful status-code failure.
func (o *OpenAIProvider) apiFailure(service ServiceType, resp *http.Response) *Failure {
	var apiErr openaiError
	json.NewDecoder(resp.Body).Decode(&apiErr)

	msg := apiErr.Error.Message
	if msg == "" {
		msg = "no error detail"
	}
	return Failf(o.Name(), service, statusKind(resp.StatusCode),
		"openai API error (status %d): %s", resp.StatusCode, msg)
}
