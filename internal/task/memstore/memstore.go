// Package memstore provides an in-memory task.Store for tests and local runs.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castpipe/castpipe/internal/task"
)

// Compile-time assertion that Store implements task.Store.
var _ task.Store = (*Store)(nil)

// Store is an in-memory task.Store. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

// New creates an empty Store.
func New() *Store {
	return &Store{tasks: make(map[string]*task.Task)}
}

// Create implements task.Store.
func (s *Store) Create(ctx context.Context, kind string, payload json.RawMessage, ownerID string) (*task.Task, error) {
	now := time.Now().UTC()
	t := &task.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		OwnerID:   ownerID,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    task.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	out := *t
	return &out, nil
}

// Get implements task.Store.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	out := *t
	return &out, nil
}

// UpdateStatus implements task.Store.
func (s *Store) UpdateStatus(ctx context.Context, id string, status task.Status, upd task.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	if !task.CanTransition(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", task.ErrInvalidTransition, t.Status, status)
	}

	t.Status = status
	if upd.Message != "" {
		t.Message = upd.Message
	}
	if upd.Step != "" {
		t.Step = upd.Step
	}
	if upd.Result != nil {
		t.Result = append(json.RawMessage(nil), upd.Result...)
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateProgress implements task.Store.
func (s *Store) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	if err := task.ValidatePercent(percent); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: progress update on %s task", task.ErrInvalidTransition, t.Status)
	}

	t.Progress = percent
	if message != "" {
		t.Message = message
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateStep implements task.Store.
func (s *Store) UpdateStep(ctx context.Context, id string, step string, percent int) error {
	if percent >= 0 {
		if err := task.ValidatePercent(percent); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.ErrNotFound
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: step update on %s task", task.ErrInvalidTransition, t.Status)
	}

	t.Step = step
	if percent >= 0 {
		t.Progress = percent
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}
