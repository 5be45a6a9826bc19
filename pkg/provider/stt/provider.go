// Package stt defines the Engine interface for batch speech-to-text
// backends.
//
// An STT engine wraps a transcription service and exposes a uniform
// bytes-in, result-out call. Two response families exist in the wild and are
// normalized at this boundary:
//
//   - Plain engines (Whisper-like) return only text. The normalized Result
//     carries empty Words and nil Metadata.
//   - Structured engines (Deepgram Nova-like) return word-level timings,
//     paragraphs, speakers, and optionally keywords and a summary. The
//     normalized Result carries all of it.
//
// Everything downstream of this package consumes only the normalized
// [Result]; no pipeline code inspects provider-specific response shapes.
//
// Implementations must be safe for concurrent use — the pipeline transcribes
// several chunks in parallel against one Engine.
package stt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDecode is returned when a backend response has an unrecognized shape.
// Decode failures are never retried: the same bytes would fail again.
var ErrDecode = errors.New("stt: cannot decode engine response")

// RateLimitError is an HTTP 429 from the engine. RetryAfter carries the
// delay the service requested.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("stt: rate limited, retry after %s", e.RetryAfter)
}

// TransientError is a service-side failure expected to clear on its own
// (5xx or a transport failure).
type TransientError struct {
	Status int // 0 for transport failures
	Detail string
	cause  error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("stt: transient failure (HTTP %d): %s", e.Status, e.Detail)
	}
	return "stt: transient failure: " + e.Detail
}

func (e *TransientError) Unwrap() error { return e.cause }

// Options carries per-call recognition hints.
type Options struct {
	// Language is the BCP-47 language tag (e.g. "en", "de"). Empty lets the
	// engine auto-detect where supported.
	Language string

	// ContentType describes the submitted audio bytes (e.g. "audio/ogg").
	ContentType string
}

// Engine is the abstraction over any batch STT backend.
type Engine interface {
	// Transcribe submits raw audio bytes and blocks until the engine
	// returns a result. Returns ErrDecode (wrapped) for unrecognized
	// response shapes; transport and 5xx failures surface as
	// *TransientError so the caller's retry driver can act on them.
	Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error)
}
