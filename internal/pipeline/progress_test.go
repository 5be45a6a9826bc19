package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/castpipe/castpipe/internal/task"
	taskmem "github.com/castpipe/castpipe/internal/task/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newProcessingTask(t *testing.T, tasks *taskmem.Store) *task.Task {
	t.Helper()
	ctx := context.Background()
	tk, err := tasks.Create(ctx, task.KindProcessAudio, nil, "owner-1")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := tasks.UpdateStatus(ctx, tk.ID, task.StatusProcessing, task.StatusUpdate{}); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	return tk
}

func TestReporterThrottlesSameStep(t *testing.T) {
	ctx := context.Background()
	tasks := taskmem.New()
	tk := newProcessingTask(t, tasks)

	now := time.Unix(1000, 0)
	r := NewReporter(tasks, tk.ID, discardLogger())
	r.now = func() time.Time { return now }

	r.ReportStep(ctx, "transcribe", 30, "chunk 1/10", nil)

	// Within the interval: coalesced away.
	now = now.Add(500 * time.Millisecond)
	r.ReportStep(ctx, "transcribe", 33, "chunk 2/10", nil)

	got, _ := tasks.Get(ctx, tk.ID)
	if got.Progress != 30 || got.Message != "chunk 1/10" {
		t.Errorf("throttled write leaked: progress=%d message=%q", got.Progress, got.Message)
	}

	// Past the interval: written.
	now = now.Add(3 * time.Second)
	r.ReportStep(ctx, "transcribe", 40, "chunk 3/10", nil)

	got, _ = tasks.Get(ctx, tk.ID)
	if got.Progress != 40 || got.Message != "chunk 3/10" {
		t.Errorf("after interval: progress=%d message=%q", got.Progress, got.Message)
	}
}

func TestReporterStepChangeWritesThrough(t *testing.T) {
	ctx := context.Background()
	tasks := taskmem.New()
	tk := newProcessingTask(t, tasks)

	now := time.Unix(1000, 0)
	r := NewReporter(tasks, tk.ID, discardLogger())
	r.now = func() time.Time { return now }

	r.ReportStep(ctx, "encode-for-processing", 15, "encoded", nil)
	r.ReportStep(ctx, "prepare-and-chunk", 25, "chunked", nil)

	got, _ := tasks.Get(ctx, tk.ID)
	if got.Step != "prepare-and-chunk" || got.Progress != 25 {
		t.Errorf("step change throttled: step=%q progress=%d", got.Step, got.Progress)
	}
}

func TestReporterResultFragmentWritesThrough(t *testing.T) {
	ctx := context.Background()
	tasks := taskmem.New()
	tk := newProcessingTask(t, tasks)

	now := time.Unix(1000, 0)
	r := NewReporter(tasks, tk.ID, discardLogger())
	r.now = func() time.Time { return now }

	r.ReportStep(ctx, "transcribe", 30, "", nil)
	fragment := json.RawMessage(`{"chunkTranscriptionsUrl":"transcriptions/x"}`)
	r.ReportStep(ctx, "transcribe", 35, "", fragment)

	got, _ := tasks.Get(ctx, tk.ID)
	if string(got.Result) != string(fragment) {
		t.Errorf("result = %s, want fragment written through throttle", got.Result)
	}
}

func TestReporterNoTask(t *testing.T) {
	// Must not panic with a nil store and empty id.
	r := NewReporter(nil, "", discardLogger())
	r.ReportStep(context.Background(), "transcribe", 30, "msg", nil)
	r.ReportStatus(context.Background(), task.StatusProcessing, "msg")
}

func TestReporterNeverWritesTerminal(t *testing.T) {
	ctx := context.Background()
	tasks := taskmem.New()
	tk := newProcessingTask(t, tasks)

	r := NewReporter(tasks, tk.ID, discardLogger())
	r.ReportStatus(ctx, task.StatusDone, "sneaky")
	r.ReportStatus(ctx, task.StatusFailed, "sneaky")

	got, _ := tasks.Get(ctx, tk.ID)
	if got.Status != task.StatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
}
