package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/castpipe/castpipe/internal/task"
)

// progressWriteInterval throttles plain progress writes. Stage transitions
// and result fragments always write through; only repeated updates within
// the same step are coalesced.
const progressWriteInterval = 2 * time.Second

// Reporter pushes best-effort progress updates to the task store. Every
// write failure is logged and swallowed: progress must never fail a step.
// A Reporter with an empty task id is a no-op, which keeps callers free of
// nil checks for taskless runs.
//
// Safe for concurrent use.
type Reporter struct {
	tasks  task.Store
	taskID string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastWrite time.Time
	lastStep  string
}

// NewReporter creates a Reporter for taskID. tasks may be nil together with
// an empty taskID for a no-op reporter.
func NewReporter(tasks task.Store, taskID string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		tasks:  tasks,
		taskID: taskID,
		logger: logger,
		now:    time.Now,
	}
}

// ReportStep records step progress on the task. When resultFragment is
// non-nil it overwrites the task's result verbatim (last-writer-wins across
// steps).
func (r *Reporter) ReportStep(ctx context.Context, stepName string, percent int, message string, resultFragment json.RawMessage) {
	if r.taskID == "" {
		return
	}

	r.mu.Lock()
	stepChanged := stepName != r.lastStep
	throttled := !stepChanged && resultFragment == nil && r.now().Sub(r.lastWrite) < progressWriteInterval
	if !throttled {
		r.lastWrite = r.now()
		r.lastStep = stepName
	}
	r.mu.Unlock()
	if throttled {
		return
	}

	if err := r.tasks.UpdateStep(ctx, r.taskID, stepName, percent); err != nil {
		r.logger.Warn("progress write failed", "task", r.taskID, "step", stepName, "error", err)
		return
	}
	if message != "" {
		if err := r.tasks.UpdateProgress(ctx, r.taskID, percent, message); err != nil {
			r.logger.Warn("progress write failed", "task", r.taskID, "step", stepName, "error", err)
		}
	}
	if resultFragment != nil {
		upd := task.StatusUpdate{Result: resultFragment, Step: stepName}
		if err := r.tasks.UpdateStatus(ctx, r.taskID, task.StatusProcessing, upd); err != nil {
			r.logger.Warn("result fragment write failed", "task", r.taskID, "step", stepName, "error", err)
		}
	}
}

// ReportStatus is a non-terminal status nudge. Terminal transitions go
// through the driver's run outcome, never through the Reporter.
func (r *Reporter) ReportStatus(ctx context.Context, status task.Status, message string) {
	if r.taskID == "" || status.Terminal() {
		return
	}
	if err := r.tasks.UpdateStatus(ctx, r.taskID, status, task.StatusUpdate{Message: message}); err != nil {
		r.logger.Warn("status write failed", "task", r.taskID, "status", status, "error", err)
	}
}
