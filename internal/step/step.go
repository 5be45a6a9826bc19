// Package step implements the durable step executor at the heart of the
// pipeline. A Runner executes named steps exactly once per workflow: each
// successful step persists its output to a Log keyed by (workflowID, step),
// and a later call with the same key returns the persisted output without
// re-executing the body. A restarted workflow therefore replays completed
// steps from the log and resumes real work at the first step without a
// persisted success.
//
// Failures are persisted too, so an operator can inspect where a run stopped.
// A failed record does not suppress re-execution: re-running the workflow
// retries the failed step.
package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned by Log.Get when no record exists for the key.
var ErrNotFound = errors.New("step: no persisted record")

// BackoffExponential doubles the delay after every failed attempt.
const BackoffExponential = "exponential"

// Policy controls retry behavior for a single step. Retries counts re-runs
// after the first attempt, so Retries=2 means up to three executions.
type Policy struct {
	Retries int
	Delay   time.Duration
	Backoff string
	Timeout time.Duration
}

// State is the persisted outcome of a step.
type State string

// Step outcomes.
const (
	StateDone   State = "done"
	StateFailed State = "failed"
)

// Record is one persisted step outcome.
type Record struct {
	WorkflowID string
	Step       string
	State      State
	Output     json.RawMessage
	Error      string
	Attempts   int
	UpdatedAt  time.Time
}

// Log persists step outcomes. Implementations must serialize writes to the
// same (workflowID, step) key.
type Log interface {
	// Get returns the record for the key, or ErrNotFound.
	Get(ctx context.Context, workflowID, stepName string) (*Record, error)

	// Put inserts or overwrites the record for (rec.WorkflowID, rec.Step).
	Put(ctx context.Context, rec Record) error
}

// Error wraps a step body failure with the step name for the pipeline driver.
type Error struct {
	Step  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Option is a functional option for configuring a Runner.
type Option func(*Runner)

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithSleep replaces the between-attempt sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

// Runner executes steps for one workflow. Safe for concurrent use, though the
// pipeline driver runs steps sequentially.
type Runner struct {
	workflowID string
	log        Log
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner bound to workflowID, persisting outcomes in log.
func NewRunner(workflowID string, log Log, opts ...Option) *Runner {
	r := &Runner{
		workflowID: workflowID,
		log:        log,
		logger:     slog.Default(),
		sleep:      sleepContext,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// WorkflowID returns the workflow this Runner executes steps for.
func (r *Runner) WorkflowID() string {
	return r.workflowID
}

// Do executes the named step under pol and returns its typed output.
//
// If the log already holds a done record for (workflow, name), the persisted
// output is decoded into T and returned without running body. Otherwise body
// runs (with retries per pol), the output is marshaled and persisted, and the
// same value is returned. All failures come back as *Error wrapping the cause.
func Do[T any](ctx context.Context, r *Runner, name string, pol Policy, body func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raw, err := r.do(ctx, name, pol, func(ctx context.Context) (json.RawMessage, error) {
		out, err := body(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal output: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, &Error{Step: name, Cause: fmt.Errorf("decode persisted output: %w", err)}
	}
	return out, nil
}

func (r *Runner) do(ctx context.Context, name string, pol Policy, body func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	rec, err := r.log.Get(ctx, r.workflowID, name)
	switch {
	case err == nil && rec.State == StateDone:
		r.logger.Debug("step replayed from log", "workflow", r.workflowID, "step", name)
		return rec.Output, nil
	case err == nil:
		// Failed record: fall through and retry the step.
	case errors.Is(err, ErrNotFound):
		// First execution.
	default:
		return nil, &Error{Step: name, Cause: fmt.Errorf("read step log: %w", err)}
	}

	var lastErr error
	attempts := 0
	delay := pol.Delay
	for attempt := 0; attempt <= pol.Retries; attempt++ {
		if attempt > 0 {
			r.logger.Warn("step attempt failed, retrying",
				"workflow", r.workflowID, "step", name,
				"attempt", attempt, "delay", delay, "error", lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			if pol.Backoff == BackoffExponential {
				delay *= 2
			}
		}

		attempts++
		output, err := r.runAttempt(ctx, pol, body)
		if err == nil {
			rec := Record{
				WorkflowID: r.workflowID,
				Step:       name,
				State:      StateDone,
				Output:     output,
				Attempts:   attempts,
				UpdatedAt:  time.Now().UTC(),
			}
			if err := r.log.Put(ctx, rec); err != nil {
				// Without a persisted output the step is not durably done;
				// surface the failure so the run does not continue past it.
				return nil, &Error{Step: name, Cause: fmt.Errorf("persist step output: %w", err)}
			}
			return output, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	failure := Record{
		WorkflowID: r.workflowID,
		Step:       name,
		State:      StateFailed,
		Error:      lastErr.Error(),
		Attempts:   attempts,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.log.Put(context.WithoutCancel(ctx), failure); err != nil {
		r.logger.Error("persist step failure", "workflow", r.workflowID, "step", name, "error", err)
	}
	return nil, &Error{Step: name, Cause: lastErr}
}

// runAttempt executes body once under the policy's per-attempt timeout.
func (r *Runner) runAttempt(ctx context.Context, pol Policy, body func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if pol.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pol.Timeout)
		defer cancel()
	}
	return body(ctx)
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
