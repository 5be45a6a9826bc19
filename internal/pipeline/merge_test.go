package pipeline

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"testing"

	"github.com/castpipe/castpipe/pkg/provider/stt"
)

func TestMergeChunksEmpty(t *testing.T) {
	merged := MergeChunks(nil, 2)
	if merged.Text != "" || merged.TotalWords != 0 {
		t.Errorf("empty merge = %+v, want zero value", merged)
	}
}

// Text-level merge over a 75s episode in 30s chunks with 2s overlap. Each
// boundary word transcribed by both chunks must appear exactly once.
func TestMergeChunksByText(t *testing.T) {
	chunks := []TranscribedChunk{
		{Index: 0, StartTimeSec: 0, EndTimeSec: 32, Text: "a b c"},
		{Index: 1, StartTimeSec: 30, EndTimeSec: 62, Text: "c d e"},
		{Index: 2, StartTimeSec: 60, EndTimeSec: 75, Text: "e f"},
	}

	merged := MergeChunks(chunks, 2)
	if merged.Text != "a b c d e f" {
		t.Errorf("merged text = %q, want %q", merged.Text, "a b c d e f")
	}
	if merged.TotalWords != 6 {
		t.Errorf("TotalWords = %d, want 6", merged.TotalWords)
	}
	if merged.Words != nil {
		t.Errorf("text merge produced words: %v", merged.Words)
	}
}

func TestMergeChunksByTextUnordered(t *testing.T) {
	chunks := []TranscribedChunk{
		{Index: 1, StartTimeSec: 30, EndTimeSec: 62, Text: "c d e"},
		{Index: 2, StartTimeSec: 60, EndTimeSec: 75, Text: "e f"},
		{Index: 0, StartTimeSec: 0, EndTimeSec: 32, Text: "a b c"},
	}
	merged := MergeChunks(chunks, 2)
	if merged.Text != "a b c d e f" {
		t.Errorf("merged text = %q, want %q", merged.Text, "a b c d e f")
	}
}

func TestMergeChunksByWords(t *testing.T) {
	chunks := []TranscribedChunk{
		{
			Index: 0, StartTimeSec: 0, EndTimeSec: 32,
			Words: []stt.Word{
				{Word: "a", Start: 0.0, End: 0.5},
				{Word: "b", Start: 1.0, End: 1.5},
				{Word: "c", Start: 31.0, End: 31.6},
			},
		},
		{
			Index: 1, StartTimeSec: 30, EndTimeSec: 62,
			Words: []stt.Word{
				// Same word the first chunk heard at the boundary, with
				// slightly drifted timestamps.
				{Word: "c", Start: 31.02, End: 31.58},
				{Word: "d", Start: 33.0, End: 33.5},
				{Word: "e", Start: 35.0, End: 35.4},
			},
		},
	}

	merged := MergeChunks(chunks, 2)
	if merged.Text != "a b c d e" {
		t.Errorf("merged text = %q, want %q", merged.Text, "a b c d e")
	}
	if len(merged.Words) != 5 {
		t.Fatalf("got %d words, want 5: %v", len(merged.Words), merged.Words)
	}
	for i := 1; i < len(merged.Words); i++ {
		if merged.Words[i].Start < merged.Words[i-1].Start {
			t.Errorf("words out of order at %d: %v", i, merged.Words)
		}
	}
}

// A missing middle chunk must not break the word merge: the surviving chunks
// contribute their words, sorted and deduplicated.
func TestMergeChunksWithGap(t *testing.T) {
	chunks := []TranscribedChunk{
		{Index: 0, StartTimeSec: 0, EndTimeSec: 32,
			Words: []stt.Word{{Word: "a", Start: 1, End: 1.4}, {Word: "b", Start: 2, End: 2.4}}},
		{Index: 1, StartTimeSec: 30, EndTimeSec: 62,
			Words: []stt.Word{{Word: "c", Start: 33, End: 33.4}, {Word: "d", Start: 34, End: 34.4}}},
		// Index 2 failed transcription and is absent.
		{Index: 3, StartTimeSec: 90, EndTimeSec: 105,
			Words: []stt.Word{{Word: "e", Start: 91, End: 91.4}, {Word: "f", Start: 92, End: 92.4}}},
	}

	merged := MergeChunks(chunks, 2)
	if merged.Text != "a b c d e f" {
		t.Errorf("merged text = %q, want %q", merged.Text, "a b c d e f")
	}
	if merged.TotalWords != 6 {
		t.Errorf("TotalWords = %d, want 6", merged.TotalWords)
	}
}

// One chunk without word timings forces the whole merge down the text path.
func TestMergeChunksMixedFallsBackToText(t *testing.T) {
	chunks := []TranscribedChunk{
		{Index: 0, StartTimeSec: 0, EndTimeSec: 32, Text: "a b c",
			Words: []stt.Word{{Word: "a", Start: 0, End: 0.4}, {Word: "b", Start: 1, End: 1.4}, {Word: "c", Start: 31, End: 31.4}}},
		{Index: 1, StartTimeSec: 30, EndTimeSec: 62, Text: "c d e"},
	}
	merged := MergeChunks(chunks, 2)
	if merged.Words != nil {
		t.Errorf("mixed merge produced words: %v", merged.Words)
	}
	if merged.Text != "a b c d e" {
		t.Errorf("merged text = %q, want %q", merged.Text, "a b c d e")
	}
}

func TestMergeMetadata(t *testing.T) {
	chunks := []TranscribedChunk{
		{Index: 0, Metadata: &stt.Metadata{
			Paragraphs: []stt.Paragraph{{Text: "hello", Start: 0, End: 5, Speaker: 0}},
			Speakers:   []int{0},
			Keywords:   []string{"go", "audio"},
			Language:   "en",
		}},
		{Index: 1, Metadata: &stt.Metadata{
			Paragraphs: []stt.Paragraph{{Text: "world", Start: 30, End: 35, Speaker: 1}},
			Speakers:   []int{1, 0},
			Keywords:   []string{"audio", "podcast"},
			Language:   "de",
			Summary:    "a talk",
		}},
	}

	meta := mergeMetadata(chunks)
	if meta == nil {
		t.Fatal("mergeMetadata returned nil")
	}
	if len(meta.Paragraphs) != 2 {
		t.Errorf("got %d paragraphs, want 2", len(meta.Paragraphs))
	}
	if !slices.Equal(meta.Speakers, []int{0, 1}) {
		t.Errorf("speakers = %v, want [0 1]", meta.Speakers)
	}
	if !slices.Equal(meta.Keywords, []string{"go", "audio", "podcast"}) {
		t.Errorf("keywords = %v", meta.Keywords)
	}
	if meta.Language != "en" {
		t.Errorf("language = %q, want first chunk's %q", meta.Language, "en")
	}
	if meta.Summary != "a talk" {
		t.Errorf("summary = %q", meta.Summary)
	}
}

func TestMergeMetadataNone(t *testing.T) {
	if meta := mergeMetadata([]TranscribedChunk{{Index: 0, Text: "a"}}); meta != nil {
		t.Errorf("mergeMetadata = %+v, want nil", meta)
	}
}

// Randomized chunk plans: whatever the timing jitter in the overlap regions,
// the word-level merge keeps word starts monotonic and never retains a word
// starting more than the tolerance before the previous word's end.
func TestMergeByWordsRetentionInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 250; iter++ {
		chunkDur := 20 + rng.Intn(120)
		overlap := 1 + rng.Intn(min(chunkDur-1, 30))
		durationSec := float64(chunkDur)*(1+rng.Float64()*5) + rng.Float64()

		n := NumChunks(durationSec, chunkDur)
		chunks := make([]TranscribedChunk, n)
		generated := 0
		for i := range n {
			start, end := chunkWindow(i, chunkDur, overlap, durationSec)
			k := 1 + rng.Intn(20)
			words := make([]stt.Word, k)
			texts := make([]string, k)
			for j := range k {
				ws := start + rng.Float64()*(end-start)
				words[j] = stt.Word{
					Word:  fmt.Sprintf("w%d_%d", i, j),
					Start: ws,
					End:   ws + 0.1 + rng.Float64()*0.4,
				}
			}
			slices.SortFunc(words, func(a, b stt.Word) int {
				switch {
				case a.Start < b.Start:
					return -1
				case a.Start > b.Start:
					return 1
				default:
					return 0
				}
			})
			for j, w := range words {
				texts[j] = w.Word
			}
			chunks[i] = TranscribedChunk{
				Index:        i,
				StartTimeSec: start,
				EndTimeSec:   end,
				Text:         strings.Join(texts, " "),
				Words:        words,
			}
			generated += k
		}

		merged := MergeChunks(chunks, overlap)
		if len(merged.Words) == 0 || len(merged.Words) > generated {
			t.Fatalf("iter %d: retained %d of %d words", iter, len(merged.Words), generated)
		}
		prev := merged.Words[0]
		for _, w := range merged.Words[1:] {
			if w.Start < prev.Start {
				t.Fatalf("iter %d: word starts not monotonic: %+v after %+v", iter, w, prev)
			}
			if w.Start < prev.End-wordDedupToleranceSec {
				t.Fatalf("iter %d: retained overlap duplicate: %+v after %+v", iter, w, prev)
			}
			prev = w
		}
		if merged.TotalWords != len(strings.Fields(merged.Text)) {
			t.Fatalf("iter %d: TotalWords = %d, text has %d words",
				iter, merged.TotalWords, len(strings.Fields(merged.Text)))
		}
	}
}
