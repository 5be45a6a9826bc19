// Package episode defines the episode repository the pipeline updates once
// processing succeeds. The pipeline only ever patches a fixed set of fields;
// ownership of the full episode record stays with the publishing system.
package episode

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the episode id does not exist.
var ErrNotFound = errors.New("episode: not found")

// Episode is the subset of the episode record the pipeline reads and writes.
type Episode struct {
	ID string

	// EncodedAudioURLs maps a rendition label ("mp3_128kbps") to the public
	// object-store key of the encoded audio.
	EncodedAudioURLs map[string]string

	// TranscriptURL is the object-store key of the final transcript.
	TranscriptURL string

	Keywords []string

	UpdatedAt time.Time
}

// Update patches an episode by id. Nil fields are left unchanged.
type Update struct {
	EncodedAudioURLs map[string]string
	TranscriptURL    *string
	Keywords         []string
}

// Store is the episode repository used by the pipeline.
type Store interface {
	// Get returns the episode by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Episode, error)

	// UpdateByID applies upd to the episode. Only the provided fields change.
	UpdateByID(ctx context.Context, id string, upd Update) error
}
