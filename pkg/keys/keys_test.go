package keys

import (
	"regexp"
	"strings"
	"testing"
)

func TestStripScheme(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"r2://episodes/abc.mp3", "episodes/abc.mp3"},
		{"episodes/abc.mp3", "episodes/abc.mp3"},
		{"r2://", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripScheme(tt.in); got != tt.want {
			t.Errorf("StripScheme(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

var uuidRe = `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`

func TestProcessingAudio(t *testing.T) {
	key := ProcessingAudio("ep-1")
	re := regexp.MustCompile(`^processing/ep-1/` + uuidRe + `_24k_mono\.ogg$`)
	if !re.MatchString(key) {
		t.Errorf("ProcessingAudio key %q does not match layout", key)
	}
	// Keys must be fresh per call.
	if key == ProcessingAudio("ep-1") {
		t.Error("two ProcessingAudio calls produced the same key")
	}
}

func TestChunk(t *testing.T) {
	key := Chunk("ep-1", "ogg")
	re := regexp.MustCompile(`^chunks/ep-1/` + uuidRe + `\.ogg$`)
	if !re.MatchString(key) {
		t.Errorf("Chunk key %q does not match layout", key)
	}
}

func TestRendition_Deterministic(t *testing.T) {
	a := Rendition("ep-1", "mp3", 128)
	b := Rendition("ep-1", "mp3", 128)
	if a != b {
		t.Errorf("Rendition keys differ: %q vs %q", a, b)
	}
	if a != "encoded/ep-1/mp3_128.mp3" {
		t.Errorf("Rendition key = %q", a)
	}
}

func TestTranscriptKeys(t *testing.T) {
	txt := TranscriptText("ep-1")
	if !strings.HasPrefix(txt, "transcripts/ep-1/") || !strings.HasSuffix(txt, ".txt") {
		t.Errorf("TranscriptText key = %q", txt)
	}
	enh := TranscriptEnhanced("ep-1")
	if !strings.HasSuffix(enh, "-enhanced.json") {
		t.Errorf("TranscriptEnhanced key = %q", enh)
	}
	dump := ChunkTranscriptions("ep-1", "wf-9")
	if dump != "transcriptions/ep-1/wf-9/chunk-transcriptions.json" {
		t.Errorf("ChunkTranscriptions key = %q", dump)
	}
}

func TestRenditionLabel(t *testing.T) {
	if got := RenditionLabel("opus", 64); got != "opus_64kbps" {
		t.Errorf("RenditionLabel = %q", got)
	}
}
