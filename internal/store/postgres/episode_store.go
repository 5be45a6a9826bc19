package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castpipe/castpipe/internal/episode"
)

// Compile-time interface check.
var _ episode.Store = (*EpisodeStoreImpl)(nil)

// EpisodeStoreImpl implements [episode.Store] on an episodes table.
//
// Obtain one via [Store.Episodes] rather than constructing directly.
// All methods are safe for concurrent use.
type EpisodeStoreImpl struct {
	pool *pgxpool.Pool
}

// Get implements [episode.Store].
func (s *EpisodeStoreImpl) Get(ctx context.Context, id string) (*episode.Episode, error) {
	const q = `
		SELECT encoded_audio_urls, transcript_url, keywords, updated_at
		FROM   episodes
		WHERE  id = $1`

	ep := &episode.Episode{ID: id}
	err := s.pool.QueryRow(ctx, q, id).Scan(&ep.EncodedAudioURLs, &ep.TranscriptURL, &ep.Keywords, &ep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, episode.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("episode store: get: %w", err)
	}
	return ep, nil
}

// UpdateByID implements [episode.Store]. Nil fields in upd leave the stored
// columns unchanged.
func (s *EpisodeStoreImpl) UpdateByID(ctx context.Context, id string, upd episode.Update) error {
	const q = `
		UPDATE episodes
		SET    encoded_audio_urls = COALESCE($2, encoded_audio_urls),
		       transcript_url     = COALESCE($3, transcript_url),
		       keywords           = COALESCE($4, keywords),
		       updated_at         = $5
		WHERE  id = $1`

	var urls any
	if upd.EncodedAudioURLs != nil {
		urls = upd.EncodedAudioURLs
	}
	var keywords any
	if upd.Keywords != nil {
		keywords = upd.Keywords
	}

	tag, err := s.pool.Exec(ctx, q, id, urls, upd.TranscriptURL, keywords, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("episode store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return episode.ErrNotFound
	}
	return nil
}
