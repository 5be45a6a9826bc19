// Package memstore provides an in-memory episode.Store for tests and local runs.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/castpipe/castpipe/internal/episode"
)

// Compile-time assertion that Store implements episode.Store.
var _ episode.Store = (*Store)(nil)

// Store is an in-memory episode.Store. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	episodes map[string]*episode.Episode
}

// New creates an empty Store.
func New() *Store {
	return &Store{episodes: make(map[string]*episode.Episode)}
}

// Seed inserts an episode, overwriting any existing record with the same id.
func (s *Store) Seed(ep episode.Episode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes[ep.ID] = &ep
}

// Get implements episode.Store.
func (s *Store) Get(ctx context.Context, id string) (*episode.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.episodes[id]
	if !ok {
		return nil, episode.ErrNotFound
	}
	out := *ep
	out.EncodedAudioURLs = maps.Clone(ep.EncodedAudioURLs)
	out.Keywords = slices.Clone(ep.Keywords)
	return &out, nil
}

// UpdateByID implements episode.Store.
func (s *Store) UpdateByID(ctx context.Context, id string, upd episode.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.episodes[id]
	if !ok {
		return episode.ErrNotFound
	}

	if upd.EncodedAudioURLs != nil {
		ep.EncodedAudioURLs = maps.Clone(upd.EncodedAudioURLs)
	}
	if upd.TranscriptURL != nil {
		ep.TranscriptURL = *upd.TranscriptURL
	}
	if upd.Keywords != nil {
		ep.Keywords = slices.Clone(upd.Keywords)
	}
	ep.UpdatedAt = time.Now().UTC()
	return nil
}
