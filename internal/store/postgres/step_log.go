package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castpipe/castpipe/internal/step"
)

// Compile-time interface check.
var _ step.Log = (*StepLogImpl)(nil)

// StepLogImpl implements [step.Log] on a step_records table, one row per
// (workflow, step). An upsert keeps the latest outcome; history is not kept.
//
// Obtain one via [Store.Steps] rather than constructing directly.
type StepLogImpl struct {
	pool *pgxpool.Pool
}

// Get implements [step.Log].
func (s *StepLogImpl) Get(ctx context.Context, workflowID, stepName string) (*step.Record, error) {
	const q = `
		SELECT state, output, error, attempts, updated_at
		FROM   step_records
		WHERE  workflow_id = $1 AND step = $2`

	rec := &step.Record{WorkflowID: workflowID, Step: stepName}
	err := s.pool.QueryRow(ctx, q, workflowID, stepName).Scan(
		&rec.State, &rec.Output, &rec.Error, &rec.Attempts, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, step.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("step log: get: %w", err)
	}
	return rec, nil
}

// Put implements [step.Log].
func (s *StepLogImpl) Put(ctx context.Context, rec step.Record) error {
	const q = `
		INSERT INTO step_records (workflow_id, step, state, output, error, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (workflow_id, step) DO UPDATE
		SET state      = EXCLUDED.state,
		    output     = EXCLUDED.output,
		    error      = EXCLUDED.error,
		    attempts   = EXCLUDED.attempts,
		    updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q,
		rec.WorkflowID, rec.Step, rec.State, rec.Output, rec.Error, rec.Attempts, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("step log: put: %w", err)
	}
	return nil
}
