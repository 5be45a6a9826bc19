// Package task defines the pipeline's view of the external task queue: one
// Task row per pipeline run, with a small status state machine and a Store
// interface the persistence adapters implement.
//
// The pipeline driver is the only writer of terminal states; the progress
// reporter writes best-effort progress updates. External readers see a
// snapshot and never write.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind for audio processing runs.
const KindProcessAudio = "process_audio"

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when the task id does not exist.
	ErrNotFound = errors.New("task: not found")

	// ErrInvalidTransition is returned when a status update violates the
	// state machine. Terminal states are sticky.
	ErrInvalidTransition = errors.New("task: invalid status transition")
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses. Done and Failed are terminal.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether the state machine permits from → to.
// Allowed: queued→processing, processing→processing, processing→done, and
// any non-terminal→failed. Everything else is rejected, so a done or failed
// task can never change status again.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusProcessing:
		return from == StatusQueued || from == StatusProcessing
	case StatusDone:
		return from == StatusProcessing
	case StatusFailed:
		return true
	default:
		return false
	}
}

// Task identifies one pipeline run to the outside world.
type Task struct {
	ID      string
	Kind    string
	OwnerID string

	// Payload is the request body the task was created with, stored verbatim.
	Payload json.RawMessage

	Status   Status
	Step     string
	Progress int
	Message  string

	// Result is the consolidated result JSON. Overwrite policy across steps
	// is last-writer-wins.
	Result json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusUpdate carries the optional fields of an UpdateStatus call. Zero
// values leave the corresponding task field unchanged, except Result which
// overwrites when non-nil.
type StatusUpdate struct {
	Message string
	Step    string
	Result  json.RawMessage
}

// Store is the task repository used by the pipeline.
//
// Implementations must serialize concurrent updates to the same task row;
// callers do not perform compare-and-swap.
type Store interface {
	// Create inserts a new task in status queued and returns it.
	Create(ctx context.Context, kind string, payload json.RawMessage, ownerID string) (*Task, error)

	// Get returns the task by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// UpdateStatus transitions the task to status, applying upd. Returns
	// ErrInvalidTransition when the state machine forbids the change.
	UpdateStatus(ctx context.Context, id string, status Status, upd StatusUpdate) error

	// UpdateProgress sets percent (0..100) and message. Valid only on
	// non-terminal tasks.
	UpdateProgress(ctx context.Context, id string, percent int, message string) error

	// UpdateStep sets the current step name. A negative percent leaves the
	// stored progress unchanged.
	UpdateStep(ctx context.Context, id string, step string, percent int) error
}

// ValidatePercent rejects progress values outside 0..100.
func ValidatePercent(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("task: progress %d out of range 0..100", percent)
	}
	return nil
}
