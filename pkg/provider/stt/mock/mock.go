// Package mock provides a test double for the stt.Engine interface.
//
// Use Engine with a TranscribeFunc to script per-call results, or with the
// Results queue to pop canned results in order. Every invocation is recorded
// in Calls so tests can assert on replay behavior (e.g. that a resumed
// pipeline does not re-transcribe completed chunks).
package mock

import (
	"context"
	"sync"

	"github.com/castpipe/castpipe/pkg/provider/stt"
)

// Compile-time assertion that Engine implements stt.Engine.
var _ stt.Engine = (*Engine)(nil)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// Audio is the raw audio bytes passed in.
	Audio []byte
	// Opts is the Options value passed in.
	Opts stt.Options
}

// Engine is a mock implementation of stt.Engine. Safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	// TranscribeFunc, if non-nil, handles every call. Takes precedence over
	// Results and Err.
	TranscribeFunc func(ctx context.Context, audio []byte, opts stt.Options) (*stt.Result, error)

	// Results is a queue of canned results popped one per call (after the
	// queue empties, the last entry is repeated).
	Results []*stt.Result

	// Err, if non-nil, is returned from every call (when TranscribeFunc is nil).
	Err error

	// Calls records every invocation.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (e *Engine) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (*stt.Result, error) {
	e.mu.Lock()
	e.Calls = append(e.Calls, TranscribeCall{Audio: audio, Opts: opts})
	n := len(e.Calls)
	fn := e.TranscribeFunc
	err := e.Err
	var result *stt.Result
	if len(e.Results) > 0 {
		idx := min(n-1, len(e.Results)-1)
		result = e.Results[idx]
	}
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, opts)
	}
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return &stt.Result{Words: []stt.Word{}}, nil
}

// CallCount returns the number of recorded Transcribe invocations.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Calls)
}
