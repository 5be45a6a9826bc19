package enhance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/castpipe/castpipe/pkg/provider/llm"
	"github.com/castpipe/castpipe/pkg/provider/llm/mock"
	"github.com/castpipe/castpipe/pkg/provider/stt"
)

func TestSplitChunks_ShortTextSingleChunk(t *testing.T) {
	chunks := splitChunks("hello world", 4000, 200)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestSplitChunks_BoundsAndOverlap(t *testing.T) {
	text := strings.Repeat("word ", 3000) // 15000 chars
	chunks := splitChunks(text, 4000, 200)

	if len(chunks) < 3 {
		t.Fatalf("len(chunks) = %d, want several", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 4000 {
			t.Errorf("chunk %d length %d exceeds max", i, len(c))
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Errorf("chunk %d not trimmed", i)
		}
	}
	// Adjacent chunks share the overlap region.
	tail := chunks[0][len(chunks[0])-100:]
	if !strings.Contains(chunks[1], strings.TrimSpace(tail[:50])) {
		t.Error("chunk 1 does not repeat the end of chunk 0")
	}
}

func TestJoinChunks_RemovesBoundaryDuplicates(t *testing.T) {
	joined := joinChunks([]string{
		"a b c d e f",
		"d e f g h",
		"f g h i",
	})
	if joined != "a b c d e f g h i" {
		t.Errorf("joined = %q", joined)
	}
}

func TestJoinChunks_NoOverlapKeepsEverything(t *testing.T) {
	// Below the 3-word minimum nothing is deduplicated.
	joined := joinChunks([]string{"a b c", "c d e"})
	if joined != "a b c c d e" {
		t.Errorf("joined = %q", joined)
	}
}

func TestChaptersFromSpeakerChanges(t *testing.T) {
	paragraphs := []stt.Paragraph{
		{Text: "Welcome to the show.", Speaker: 0, Start: 0},
		{Text: "More from speaker zero.", Speaker: 0, Start: 12},
		{Text: "Thanks for having me.", Speaker: 1, Start: 30},
		{Text: "Back to the host.", Speaker: 0, Start: 55},
	}
	chapters := chaptersFromSpeakerChanges(paragraphs)
	if len(chapters) != 3 {
		t.Fatalf("len(chapters) = %d, want 3", len(chapters))
	}
	if chapters[0].StartSec != 0 || chapters[1].StartSec != 30 || chapters[2].StartSec != 55 {
		t.Errorf("chapters = %+v", chapters)
	}
}

func TestEnhance_StructuredPathNeedsNoLLM(t *testing.T) {
	e := New(nil)
	result := e.Enhance(context.Background(), Input{
		Text: "Welcome back. Thanks for having me.",
		Metadata: &stt.Metadata{
			Paragraphs: []stt.Paragraph{
				{Text: "Welcome back.", Speaker: 0, Start: 0},
				{Text: "Thanks for having me.", Speaker: 1, Start: 5},
			},
			Speakers: []int{0, 1},
			Language: "en",
			Summary:  "A greeting.",
		},
	})

	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v", result.Warnings)
	}
	if result.Summary != "A greeting." || result.Language != "en" {
		t.Errorf("result = %+v", result)
	}
	if len(result.Chapters) != 2 {
		t.Errorf("Chapters = %+v", result.Chapters)
	}
	if !strings.Contains(result.Markdown, "**Speaker 1**") {
		t.Errorf("Markdown = %q", result.Markdown)
	}
}

func TestEnhance_LLMPathDegradesGracefully(t *testing.T) {
	provider := &mock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			switch {
			case strings.Contains(req.SystemPrompt, "summary"):
				return &llm.CompletionResponse{Content: "A short summary."}, nil
			case strings.Contains(req.SystemPrompt, "keywords"):
				return nil, errors.New("model unavailable")
			case strings.Contains(req.SystemPrompt, "people"):
				return &llm.CompletionResponse{Content: `["Ada Lovelace"]`}, nil
			case strings.Contains(req.SystemPrompt, "places"):
				return &llm.CompletionResponse{Content: "```json\n[]\n```"}, nil
			case strings.Contains(req.SystemPrompt, "chapters"):
				return &llm.CompletionResponse{Content: `[{"title":"Intro","startSec":0}]`}, nil
			case strings.Contains(req.SystemPrompt, "correction"):
				return &llm.CompletionResponse{Content: `{"corrected_text":"hello word","corrections":[]}`}, nil
			default:
				t.Errorf("unexpected prompt: %q", req.SystemPrompt)
				return &llm.CompletionResponse{}, nil
			}
		},
	}

	e := New(provider)
	result := e.Enhance(context.Background(), Input{Text: "hello word"})

	if result.Summary != "A short summary." {
		t.Errorf("Summary = %q", result.Summary)
	}
	if len(result.Persons) != 1 || result.Persons[0] != "Ada Lovelace" {
		t.Errorf("Persons = %v", result.Persons)
	}
	if len(result.Chapters) != 1 || result.Chapters[0].Title != "Intro" {
		t.Errorf("Chapters = %+v", result.Chapters)
	}

	// The keywords failure degrades to a warning, never an error.
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "keywords") {
		t.Errorf("Warnings = %v", result.Warnings)
	}
	if result.Keywords != nil {
		t.Errorf("Keywords = %v, want none", result.Keywords)
	}
}

func TestEnhance_NoLLMNoMetadata(t *testing.T) {
	e := New(nil)
	result := e.Enhance(context.Background(), Input{Text: "plain text"})
	if result.Text != "plain text" {
		t.Errorf("Text = %q", result.Text)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Warnings = %v", result.Warnings)
	}
}

func TestVerifyCorrections(t *testing.T) {
	verified, reverted := verifyCorrections([]Correction{
		{Original: "recieve", Corrected: "receive"},   // near-identical spelling
		{Original: "there", Corrected: "their"},       // sound-alike
		{Original: "banana", Corrected: "transcoder"}, // rewrite, must revert
		{Original: "same", Corrected: "same"},         // no-op, dropped
	})

	if len(verified) != 2 {
		t.Fatalf("verified = %+v", verified)
	}
	if len(reverted) != 1 || reverted[0].Corrected != "transcoder" {
		t.Fatalf("reverted = %+v", reverted)
	}
}

func TestRevertCorrection_PreservesPunctuation(t *testing.T) {
	got := revertCorrection("we use the transcoder.", Correction{Original: "banana", Corrected: "transcoder"})
	if got != "we use the banana." {
		t.Errorf("got %q", got)
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := formatTimestamp(75); got != "1:15" {
		t.Errorf("formatTimestamp(75) = %q", got)
	}
	if got := formatTimestamp(3725); got != "1:02:05" {
		t.Errorf("formatTimestamp(3725) = %q", got)
	}
}
