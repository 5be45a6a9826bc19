// Package pipeline implements the durable audio-processing pipeline: the
// ordered step sequence that encodes, chunks, transcribes, enhances, and
// publishes one podcast episode, reporting progress and failures to the task
// store.
package pipeline

import (
	"errors"
	"time"

	"github.com/castpipe/castpipe/internal/retry"
	"github.com/castpipe/castpipe/pkg/objstore"
	"github.com/castpipe/castpipe/pkg/provider/stt"
	"github.com/castpipe/castpipe/pkg/transcoder"
)

// ConfigError is a missing or malformed input or credential. Terminal for
// the run; never retried.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string {
	return "pipeline: configuration error: " + e.Detail
}

// AllChunksFailedError is the aggregate failure of the transcribe step: not a
// single chunk produced a transcription. Terminal for the run.
type AllChunksFailedError struct {
	Detail string
}

func (e *AllChunksFailedError) Error() string {
	return "pipeline: all chunks failed: " + e.Detail
}

// classifyTranscoder maps transcoder client errors onto retry decisions:
// rate limits retry after the requested delay, transient failures retry on
// the backoff schedule, and everything else (including functional encoding
// errors) fails immediately.
func classifyTranscoder(err error) retry.Decision {
	var rl *transcoder.RateLimitError
	if errors.As(err, &rl) {
		return retry.Decision{Retry: true, Sleep: rl.RetryAfter}
	}
	var tr *transcoder.TransientError
	if errors.As(err, &tr) {
		return retry.Decision{Retry: true}
	}
	return retry.Decision{}
}

// classifySTT is the STT counterpart of classifyTranscoder. Decode errors
// are never retried: the engine answered, just not in a shape we understand.
func classifySTT(err error) retry.Decision {
	var rl *stt.RateLimitError
	if errors.As(err, &rl) {
		return retry.Decision{Retry: true, Sleep: rl.RetryAfter}
	}
	var tr *stt.TransientError
	if errors.As(err, &tr) {
		return retry.Decision{Retry: true}
	}
	return retry.Decision{}
}

// wrapConfigError maps missing-credential failures from the object store
// onto the pipeline's ConfigError so the run fails terminally with a clear
// message instead of retrying a hopeless presign.
func wrapConfigError(err error) error {
	if errors.Is(err, objstore.ErrNoCredentials) {
		return &ConfigError{Detail: err.Error()}
	}
	return err
}

// failureResult is the task result JSON written when a run fails.
type failureResult struct {
	Status        string    `json:"status"`
	Error         string    `json:"error"`
	Step          string    `json:"step"`
	Timestamp     time.Time `json:"timestamp"`
	OriginalError string    `json:"originalError"`
}
