package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castpipe/castpipe/internal/task"
)

// Compile-time interface check.
var _ task.Store = (*TaskStoreImpl)(nil)

// TaskStoreImpl implements [task.Store] on a tasks table.
//
// Obtain one via [Store.Tasks] rather than constructing directly.
// All methods are safe for concurrent use. Status transitions are validated
// inside a row-locking transaction so concurrent writers cannot race a task
// out of a terminal state.
type TaskStoreImpl struct {
	pool *pgxpool.Pool
}

// Create implements [task.Store].
func (s *TaskStoreImpl) Create(ctx context.Context, kind string, payload json.RawMessage, ownerID string) (*task.Task, error) {
	const q = `
		INSERT INTO tasks (id, kind, owner_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	t := &task.Task{
		ID:      uuid.NewString(),
		Kind:    kind,
		OwnerID: ownerID,
		Payload: payload,
		Status:  task.StatusQueued,
	}
	err := s.pool.QueryRow(ctx, q, t.ID, kind, ownerID, payload).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("task store: create: %w", err)
	}
	return t, nil
}

// Get implements [task.Store].
func (s *TaskStoreImpl) Get(ctx context.Context, id string) (*task.Task, error) {
	const q = `
		SELECT kind, owner_id, payload, status, step, progress, message, result, created_at, updated_at
		FROM   tasks
		WHERE  id = $1`

	t := &task.Task{ID: id}
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&t.Kind, &t.OwnerID, &t.Payload, &t.Status, &t.Step,
		&t.Progress, &t.Message, &t.Result, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("task store: get: %w", err)
	}
	return t, nil
}

// UpdateStatus implements [task.Store].
func (s *TaskStoreImpl) UpdateStatus(ctx context.Context, id string, status task.Status, upd task.StatusUpdate) error {
	return s.withLockedRow(ctx, id, func(tx pgx.Tx, current task.Status) error {
		if !task.CanTransition(current, status) {
			return fmt.Errorf("%w: %s -> %s", task.ErrInvalidTransition, current, status)
		}

		const q = `
			UPDATE tasks
			SET    status     = $2,
			       message    = CASE WHEN $3 <> '' THEN $3 ELSE message END,
			       step       = CASE WHEN $4 <> '' THEN $4 ELSE step END,
			       result     = COALESCE($5, result),
			       updated_at = $6
			WHERE  id = $1`

		_, err := tx.Exec(ctx, q, id, status, upd.Message, upd.Step, upd.Result, time.Now().UTC())
		return err
	})
}

// UpdateProgress implements [task.Store].
func (s *TaskStoreImpl) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	if err := task.ValidatePercent(percent); err != nil {
		return err
	}

	return s.withLockedRow(ctx, id, func(tx pgx.Tx, current task.Status) error {
		if current.Terminal() {
			return fmt.Errorf("%w: progress update on %s task", task.ErrInvalidTransition, current)
		}

		const q = `
			UPDATE tasks
			SET    progress   = $2,
			       message    = CASE WHEN $3 <> '' THEN $3 ELSE message END,
			       updated_at = $4
			WHERE  id = $1`

		_, err := tx.Exec(ctx, q, id, percent, message, time.Now().UTC())
		return err
	})
}

// UpdateStep implements [task.Store].
func (s *TaskStoreImpl) UpdateStep(ctx context.Context, id string, stepName string, percent int) error {
	if percent >= 0 {
		if err := task.ValidatePercent(percent); err != nil {
			return err
		}
	}

	return s.withLockedRow(ctx, id, func(tx pgx.Tx, current task.Status) error {
		if current.Terminal() {
			return fmt.Errorf("%w: step update on %s task", task.ErrInvalidTransition, current)
		}

		const q = `
			UPDATE tasks
			SET    step       = $2,
			       progress   = CASE WHEN $3 >= 0 THEN $3 ELSE progress END,
			       updated_at = $4
			WHERE  id = $1`

		_, err := tx.Exec(ctx, q, id, stepName, percent, time.Now().UTC())
		return err
	})
}

// withLockedRow runs fn inside a transaction holding a FOR UPDATE lock on the
// task row, handing it the current status for state-machine checks.
func (s *TaskStoreImpl) withLockedRow(ctx context.Context, id string, fn func(tx pgx.Tx, current task.Status) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("task store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current task.Status
	err = tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("task store: lock row: %w", err)
	}

	if err := fn(tx, current); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("task store: commit: %w", err)
	}
	return nil
}
