package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAsFailurePassesThrough(t *testing.T) {
	orig := Failf("a", TextGeneration, KindAuth, "bad key")

	got := AsFailure("a", TextGeneration, orig)
	if got != orig {
		t.Error("an existing *Failure must pass through unchanged")
	}

	// Also when wrapped.
	wrapped := fmt.Errorf("attempt: %w", orig)
	got = AsFailure("a", TextGeneration, wrapped)
	if got.Kind != KindAuth {
		t.Errorf("kind = %q, want %q from the wrapped failure", got.Kind, KindAuth)
	}
}

func TestAsFailureClassifiesDeadline(t *testing.T) {
	err := fmt.Errorf("doing request: %w", context.DeadlineExceeded)

	fail := AsFailure("a", TextToSpeech, err)
	if fail.Kind != KindTimeout {
		t.Errorf("kind = %q, want %q", fail.Kind, KindTimeout)
	}
	if fail.Provider != "a" || fail.Service != TextToSpeech {
		t.Errorf("failure identity = %s/%s, want a/tts", fail.Provider, fail.Service)
	}
}

func TestAsFailureDefaultsToUpstream(t *testing.T) {
	fail := AsFailure("a", SpeechToText, errors.New("connection reset"))
	if fail.Kind != KindUpstream {
		t.Errorf("kind = %q, want %q", fail.Kind, KindUpstream)
	}
}

func TestStatusKind(t *testing.T) {
	cases := map[int]FailureKind{
		http.StatusUnauthorized:        KindAuth,
		http.StatusForbidden:           KindAuth,
		http.StatusTooManyRequests:     KindQuota,
		http.StatusBadGateway:          KindUpstream,
		http.StatusServiceUnavailable:  KindUpstream,
		http.StatusBadRequest:          KindBadRequest,
		http.StatusUnprocessableEntity: KindBadRequest,
	}
	for status, want := range cases {
		if got := statusKind(status); got != want {
			t.Errorf("statusKind(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestChainFailureMessage(t *testing.T) {
	err := &ChainFailure{
		Service: TextGeneration,
		Failures: []*Failure{
			Failf("a", TextGeneration, KindTimeout, "deadline"),
			Failf("b", TextGeneration, KindAuth, "bad key"),
		},
	}

	msg := err.Error()
	if !strings.Contains(msg, "a (timeout)") || !strings.Contains(msg, "b (auth)") {
		t.Errorf("message %q should name each provider with its failure kind", msg)
	}
	// The aggregate keeps chain order for diagnostics.
	if strings.Index(msg, "a (") > strings.Index(msg, "b (") {
		t.Errorf("message %q lists providers out of chain order", msg)
	}
}

func TestFailureUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	fail := &Failure{Provider: "a", Service: TextGeneration, Kind: KindUpstream, Err: inner}

	if !errors.Is(fail, inner) {
		t.Error("Failure must unwrap to its underlying error")
	}
}
