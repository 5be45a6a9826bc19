// Package postgres provides PostgreSQL-backed implementations of the
// pipeline's persistence interfaces: the task store, the episode store, and
// the step log. All three share a single [pgxpool.Pool] connection pool.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	tasks := store.Tasks()       // task.Store
//	episodes := store.Episodes() // episode.Store
//	steps := store.Steps()       // step.Log
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the central PostgreSQL-backed store for the pipeline. Obtain the
// per-concern implementations via [Store.Tasks], [Store.Episodes], and
// [Store.Steps]. All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	tasks    *TaskStoreImpl
	episodes *EpisodeStoreImpl
	steps    *StepLogImpl
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure all required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		tasks:    &TaskStoreImpl{pool: pool},
		episodes: &EpisodeStoreImpl{pool: pool},
		steps:    &StepLogImpl{pool: pool},
	}, nil
}

// Tasks returns the task repository implementation which satisfies [task.Store].
func (s *Store) Tasks() *TaskStoreImpl { return s.tasks }

// Episodes returns the episode repository implementation which satisfies [episode.Store].
func (s *Store) Episodes() *EpisodeStoreImpl { return s.episodes }

// Steps returns the step log implementation which satisfies [step.Log].
func (s *Store) Steps() *StepLogImpl { return s.steps }

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
