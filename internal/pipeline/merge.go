package pipeline

import (
	"math"
	"slices"
	"strings"

	"github.com/castpipe/castpipe/pkg/provider/stt"
)

// wordDedupToleranceSec is the timing slack allowed between adjacent retained
// words during the word-level merge. Two chunks covering the same overlap
// region report the same word with slightly different timestamps; anything
// starting earlier than the previous word's end minus this tolerance is a
// duplicate.
const wordDedupToleranceSec = 0.1

// TranscribedChunk is the normalized transcription of one chunk. Word
// timestamps are absolute (offset by the chunk's start time), so merged
// output needs no further shifting.
type TranscribedChunk struct {
	Index        int           `json:"index"`
	StartTimeSec float64       `json:"startTimeSec"`
	EndTimeSec   float64       `json:"endTimeSec"`
	Text         string        `json:"text"`
	Words        []stt.Word    `json:"words,omitempty"`
	Metadata     *stt.Metadata `json:"metadata,omitempty"`
}

// Merged is the single transcript assembled from all chunk transcriptions.
type Merged struct {
	Text       string
	TotalWords int

	// Words is set only by the word-level merge.
	Words []stt.Word

	// Metadata is the combined structured metadata, nil for plain engines.
	Metadata *stt.Metadata
}

// MergeChunks assembles one transcript from per-chunk transcriptions.
// Chunks are ordered by index first; failed chunks are simply absent from
// the input. When every chunk carries word timings the word-level merge is
// used, otherwise the text-level overlap heuristic.
func MergeChunks(chunks []TranscribedChunk, overlapDurationSec int) Merged {
	if len(chunks) == 0 {
		return Merged{}
	}

	sorted := slices.Clone(chunks)
	slices.SortFunc(sorted, func(a, b TranscribedChunk) int {
		return a.Index - b.Index
	})

	allWords := true
	for _, c := range sorted {
		if len(c.Words) == 0 {
			allWords = false
			break
		}
	}

	var merged Merged
	if allWords {
		merged = mergeByWords(sorted)
	} else {
		merged = mergeByText(sorted, overlapDurationSec)
	}
	merged.Metadata = mergeMetadata(sorted)
	merged.TotalWords = len(strings.Fields(merged.Text))
	return merged
}

// mergeByWords concatenates all words, sorts by start time, and drops
// duplicates from the overlap regions: a word is retained iff its start is
// no earlier than the previous retained word's end minus the tolerance.
func mergeByWords(chunks []TranscribedChunk) Merged {
	var all []stt.Word
	for _, c := range chunks {
		all = append(all, c.Words...)
	}
	slices.SortStableFunc(all, func(a, b stt.Word) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	retained := make([]stt.Word, 0, len(all))
	prevEnd := -1.0
	for _, w := range all {
		if len(retained) > 0 && w.Start < prevEnd-wordDedupToleranceSec {
			continue
		}
		retained = append(retained, w)
		prevEnd = w.End
	}

	texts := make([]string, len(retained))
	for i, w := range retained {
		texts[i] = w.Word
	}
	return Merged{Text: strings.Join(texts, " "), Words: retained}
}

// mergeByText joins chunk texts, dropping the leading words of each chunk
// that the preceding chunk's overlap already covered. The drop count is
// proportional to the overlap's share of the chunk's duration.
func mergeByText(chunks []TranscribedChunk, overlapDurationSec int) Merged {
	var parts []string
	for i, cur := range chunks {
		text := strings.TrimSpace(cur.Text)
		if i == 0 {
			parts = append(parts, text)
			continue
		}

		prev := chunks[i-1]
		overlap := min(prev.EndTimeSec-cur.StartTimeSec, float64(overlapDurationSec))
		chunkLen := cur.EndTimeSec - cur.StartTimeSec

		if overlap > 0 && chunkLen > 0 {
			// Round the duplicated share up so a fractional overlap still
			// removes the boundary word both chunks transcribed.
			words := strings.Fields(text)
			drop := int(math.Ceil(overlap / chunkLen * float64(len(words))))
			if drop > len(words) {
				drop = len(words)
			}
			text = strings.Join(words[drop:], " ")
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return Merged{Text: strings.Join(parts, " ")}
}

// mergeMetadata combines structured metadata across chunks: paragraphs
// concatenated in chunk order, speakers unioned, language and summary from
// the first chunk reporting them. Returns nil when no chunk carried
// metadata.
func mergeMetadata(chunks []TranscribedChunk) *stt.Metadata {
	var meta *stt.Metadata
	for _, c := range chunks {
		if c.Metadata == nil {
			continue
		}
		if meta == nil {
			meta = &stt.Metadata{}
		}
		meta.Paragraphs = append(meta.Paragraphs, c.Metadata.Paragraphs...)
		for _, s := range c.Metadata.Speakers {
			if !slices.Contains(meta.Speakers, s) {
				meta.Speakers = append(meta.Speakers, s)
			}
		}
		for _, k := range c.Metadata.Keywords {
			if !slices.Contains(meta.Keywords, k) {
				meta.Keywords = append(meta.Keywords, k)
			}
		}
		if meta.Language == "" {
			meta.Language = c.Metadata.Language
		}
		if meta.Summary == "" {
			meta.Summary = c.Metadata.Summary
		}
	}
	if meta != nil {
		slices.Sort(meta.Speakers)
	}
	return meta
}
