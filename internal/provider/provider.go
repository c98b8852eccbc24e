// Package provider defines the ServiceType enumeration, the unified
// request/result types, the failure taxonomy, and the Provider interface
// that every upstream AI backend adapter implements.
//
// Every backend (OpenAI, Anthropic, ElevenLabs, ...) implements the
// Provider interface. The rest of the gateway — dispatcher, registry,
// handlers — works only with these unified types, so nothing above this
// package needs to know which vendor actually served a request.
package provider

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// ServiceType
// ---------------------------------------------------------------------------

// ServiceType identifies one of the three abstract AI operations the
// gateway routes. It is a closed set: adding a service means adding a
// constant here and wiring a chain for it in config, not a schema change.
type ServiceType string

const (
	// TextToSpeech synthesizes audio from text.
	TextToSpeech ServiceType = "tts"
	// SpeechToText transcribes audio to text.
	SpeechToText ServiceType = "stt"
	// TextGeneration generates text from a prompt.
	TextGeneration ServiceType = "llm"
)

// AllServiceTypes returns the closed set in a stable order. Used by the
// registry for validation and by the stats/health endpoints for iteration.
func AllServiceTypes() []ServiceType {
	return []ServiceType{TextToSpeech, SpeechToText, TextGeneration}
}

// Valid reports whether s is one of the known service types.
func (s ServiceType) Valid() bool {
	switch s {
	case TextToSpeech, SpeechToText, TextGeneration:
		return true
	}
	return false
}

func (s ServiceType) String() string { return string(s) }

// ---------------------------------------------------------------------------
// Unified request types
// ---------------------------------------------------------------------------

// Options carries the per-operation tuning knobs. Each ServiceType reads
// the fields it recognizes and ignores the rest, which is what lets the
// HTTP layer accept unknown option keys without rejecting the request:
//   TextToSpeech:   Voice, Model
//   SpeechToText:   Model, Language
//   TextGeneration: Model, Temperature, MaxTokens
type Options struct {
	Voice       string
	Model       string
	Language    string
	Temperature float64
	MaxTokens   int
}

// Request is the unified input for one operation. Exactly one payload
// field is set depending on the ServiceType: Text for TextToSpeech and
// TextGeneration, Audio for SpeechToText. A Request is never mutated
// after construction — adapters translate it into their wire format but
// do not write back into it.
type Request struct {
	Text    string
	Audio   []byte
	Options Options
}

// ---------------------------------------------------------------------------
// Unified result types
// ---------------------------------------------------------------------------

// Usage is the billable unit count measured for one successful attempt.
// Only the field appropriate to the ServiceType is populated: Characters
// for TextToSpeech, AudioSeconds for SpeechToText, Tokens for
// TextGeneration. A failed attempt that consumed no billable usage is
// the zero value, which prices to zero by construction.
type Usage struct {
	Characters   int
	AudioSeconds float64
	Tokens       int
}

// Result is the outcome of one successful provider attempt. It is
// immutable once created and is the unit the metrics sink records.
type Result struct {
	// Provider is the name of the adapter that produced this result.
	Provider string

	// Model is the model the provider reports having used. May differ
	// from the requested model (vendors resolve aliases server-side).
	Model string

	// Language is provider-reported, populated for SpeechToText.
	Language string

	// Text holds the transcript (SpeechToText) or generation
	// (TextGeneration); Audio and MimeType hold synthesized speech
	// (TextToSpeech).
	Text     string
	Audio    []byte
	MimeType string

	// Latency is the wall-clock duration of the attempt that produced
	// this result, measured by the dispatcher around Invoke.
	Latency time.Duration

	Usage Usage
}

// ---------------------------------------------------------------------------
// Provider interface
// ---------------------------------------------------------------------------

// Provider is the interface every upstream backend adapter satisfies.
//
// An adapter executes exactly one attempt per Invoke call and never
// retries internally: retry, timeout, and fallback policy all live in the
// dispatcher so the failover behavior stays centralized and testable.
type Provider interface {
	// Name returns the provider identifier, e.g. "openai" or
	// "elevenlabs". Used for registry lookup, logging, metric labels,
	// and pricing resolution.
	Name() string

	// Supports reports whether this adapter implements the given
	// ServiceType. Invoking an unsupported service fails fast with an
	// unsupported-operation Failure; it never silently no-ops.
	Supports(service ServiceType) bool

	// Invoke executes one attempt of one operation. The context carries
	// the per-attempt deadline; the adapter must stop waiting on the
	// upstream call once ctx is done and return promptly with a timeout
	// Failure. The underlying HTTP exchange is cancelled through the
	// context, so at worst an in-flight connection is abandoned to the
	// transport's cleanup, never silently swallowed.
	Invoke(ctx context.Context, service ServiceType, req *Request) (*Result, error)

	// CheckHealth is a best-effort, side-effect-free liveness probe.
	// It must be cheap, must not mutate provider state, and never
	// counts against any rate limit (probes do not pass through the
	// admission path at all).
	CheckHealth(ctx context.Context) error
}
