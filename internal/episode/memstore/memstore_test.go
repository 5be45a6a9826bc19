package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/castpipe/castpipe/internal/episode"
)

func TestGetUnknownEpisode(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, episode.ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestUpdateByIDPartial(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Seed(episode.Episode{ID: "ep1", Keywords: []string{"old"}})

	urls := map[string]string{"mp3_128kbps": "encoded/ep1/mp3_128.mp3"}
	if err := s.UpdateByID(ctx, "ep1", episode.Update{EncodedAudioURLs: urls}); err != nil {
		t.Fatalf("update urls: %v", err)
	}

	got, err := s.Get(ctx, "ep1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EncodedAudioURLs["mp3_128kbps"] != urls["mp3_128kbps"] {
		t.Errorf("urls = %v", got.EncodedAudioURLs)
	}
	// Untouched fields survive a partial update.
	if len(got.Keywords) != 1 || got.Keywords[0] != "old" {
		t.Errorf("keywords = %v, want [old]", got.Keywords)
	}

	transcript := "transcripts/ep1/t.txt"
	if err := s.UpdateByID(ctx, "ep1", episode.Update{TranscriptURL: &transcript}); err != nil {
		t.Fatalf("update transcript: %v", err)
	}
	got, _ = s.Get(ctx, "ep1")
	if got.TranscriptURL != transcript {
		t.Errorf("transcriptUrl = %q, want %q", got.TranscriptURL, transcript)
	}
	if got.EncodedAudioURLs["mp3_128kbps"] == "" {
		t.Error("urls lost by later partial update")
	}
}

func TestUpdateByIDUnknown(t *testing.T) {
	s := New()
	if err := s.UpdateByID(context.Background(), "nope", episode.Update{}); !errors.Is(err, episode.ErrNotFound) {
		t.Errorf("update unknown = %v, want ErrNotFound", err)
	}
}
