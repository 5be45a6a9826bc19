// Package retry provides the budgeted retry loop that governs every external
// call the pipeline makes (transcoder, STT, object store, task store).
//
// Unlike an attempt-counted loop, [RunWithinBudget] is bounded by wall-clock
// time: it keeps retrying a failing operation until the budget is exhausted,
// backing off exponentially between attempts. A [Classifier] inspects each
// error and decides whether it is retryable and whether the service dictated
// an explicit delay (HTTP 429 Retry-After).
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrBudgetExhausted is returned when the retry budget is consumed before the
// operation succeeds. The last operation error is attached via wrapping.
var ErrBudgetExhausted = errors.New("retry: budget exhausted")

// Decision is a classifier's verdict on a single error.
type Decision struct {
	// Retry reports whether the operation should be attempted again.
	Retry bool

	// Sleep, when non-zero, overrides the exponential backoff schedule with
	// an explicit delay (typically a Retry-After value).
	Sleep time.Duration
}

// Classifier inspects an operation error and decides how to proceed.
// It is only consulted for non-nil errors.
type Classifier func(error) Decision

// Config holds the tuning knobs for a retry loop. Zero-value fields are
// replaced with defaults mirroring the pipeline configuration.
type Config struct {
	// Budget is the maximum wall-clock time the loop may consume.
	// Default: 1 hour.
	Budget time.Duration

	// BaseDelay is the first backoff delay; it doubles per attempt.
	// Default: 10s.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 5 minutes.
	MaxDelay time.Duration

	// SleepMargin is the headroom that must remain in the budget after a
	// planned sleep for the next attempt to be worth making. Default: 30s.
	SleepMargin time.Duration
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = time.Hour
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 10 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.SleepMargin <= 0 {
		c.SleepMargin = 30 * time.Second
	}
	return c
}

// RunWithinBudget runs op until it succeeds, the classifier declares the
// error non-retryable, the context is cancelled, or the budget runs out.
//
// Between attempts the loop sleeps min(BaseDelay*2^(attempt-1), MaxDelay),
// unless the classifier supplied an explicit delay. A planned sleep that
// would leave less than SleepMargin of budget fails fast with
// [ErrBudgetExhausted] instead of sleeping.
func RunWithinBudget[T any](ctx context.Context, cfg Config, classify Classifier, op func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T

	start := time.Now()
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry: %w", ctx.Err())
		}

		d := classify(err)
		if !d.Retry {
			return zero, err
		}

		sleep := d.Sleep
		if sleep <= 0 {
			sleep = min(cfg.BaseDelay<<(attempt-1), cfg.MaxDelay)
		}

		remaining := cfg.Budget - time.Since(start)
		if sleep+cfg.SleepMargin > remaining {
			return zero, fmt.Errorf("%w after %d attempt(s): %w", ErrBudgetExhausted, attempt, err)
		}

		slog.Debug("retrying after error",
			"attempt", attempt,
			"sleep", sleep,
			"remaining_budget", remaining,
			"err", err,
		)

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry: %w", ctx.Err())
		}
	}
}
