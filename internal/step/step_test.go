package step

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(ctx context.Context, d time.Duration) error {
	return nil
}

func TestDo_PersistsAndReplays(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()
	r := NewRunner("wf-1", log, WithSleep(noSleep))

	runs := 0
	body := func(ctx context.Context) (string, error) {
		runs++
		return "output-1", nil
	}

	got, err := Do(ctx, r, "encode", Policy{}, body)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "output-1" || runs != 1 {
		t.Fatalf("got = %q, runs = %d", got, runs)
	}

	// Same step on a fresh Runner for the same workflow: replay, no re-run.
	r2 := NewRunner("wf-1", log, WithSleep(noSleep))
	got, err = Do(ctx, r2, "encode", Policy{}, body)
	if err != nil {
		t.Fatalf("Do replay: %v", err)
	}
	if got != "output-1" {
		t.Errorf("replayed output = %q", got)
	}
	if runs != 1 {
		t.Errorf("body ran %d times, want 1", runs)
	}

	// A different workflow id does re-run.
	r3 := NewRunner("wf-2", log, WithSleep(noSleep))
	if _, err := Do(ctx, r3, "encode", Policy{}, body); err != nil {
		t.Fatalf("Do other workflow: %v", err)
	}
	if runs != 2 {
		t.Errorf("body ran %d times across workflows, want 2", runs)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	r := NewRunner("wf-1", NewMemLog(), WithSleep(noSleep))

	attempts := 0
	got, err := Do(ctx, r, "flaky", Policy{Retries: 3, Delay: time.Second}, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 42 || attempts != 3 {
		t.Errorf("got = %d, attempts = %d", got, attempts)
	}
}

func TestDo_ExhaustionPersistsFailureAndRetriesOnRerun(t *testing.T) {
	ctx := context.Background()
	log := NewMemLog()
	r := NewRunner("wf-1", log, WithSleep(noSleep))

	cause := errors.New("broken")
	attempts := 0
	_, err := Do(ctx, r, "doomed", Policy{Retries: 2}, func(ctx context.Context) (string, error) {
		attempts++
		return "", cause
	})

	var stepErr *Error
	if !errors.As(err, &stepErr) {
		t.Fatalf("err = %v, want *step.Error", err)
	}
	if stepErr.Step != "doomed" || !errors.Is(err, cause) {
		t.Errorf("stepErr = %+v", stepErr)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", attempts)
	}

	rec, errGet := log.Get(ctx, "wf-1", "doomed")
	if errGet != nil {
		t.Fatalf("failure not persisted: %v", errGet)
	}
	if rec.State != StateFailed || rec.Attempts != 3 {
		t.Errorf("record = %+v", rec)
	}

	// A failed record does not block re-execution: a rerun retries the step.
	r2 := NewRunner("wf-1", log, WithSleep(noSleep))
	got, err := Do(ctx, r2, "doomed", Policy{}, func(ctx context.Context) (string, error) {
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if got != "recovered" {
		t.Errorf("rerun output = %q", got)
	}
}

func TestDo_ExponentialBackoffDelays(t *testing.T) {
	ctx := context.Background()
	var delays []time.Duration
	r := NewRunner("wf-1", NewMemLog(), WithSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))

	pol := Policy{Retries: 3, Delay: 10 * time.Second, Backoff: BackoffExponential}
	_, err := Do(ctx, r, "backoff", pol, func(ctx context.Context) (string, error) {
		return "", errors.New("nope")
	})
	if err == nil {
		t.Fatal("want error")
	}

	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestDo_AttemptTimeout(t *testing.T) {
	ctx := context.Background()
	r := NewRunner("wf-1", NewMemLog(), WithSleep(noSleep))

	_, err := Do(ctx, r, "slow", Policy{Timeout: 10 * time.Millisecond}, func(ctx context.Context) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestDo_CancellationStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner("wf-1", NewMemLog(), WithSleep(sleepContext))

	attempts := 0
	_, err := Do(ctx, r, "cancelled", Policy{Retries: 5, Delay: time.Hour}, func(ctx context.Context) (string, error) {
		attempts++
		cancel()
		return "", errors.New("transient")
	})
	if err == nil {
		t.Fatal("want error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after cancellation)", attempts)
	}
}
