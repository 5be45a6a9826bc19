package enhance

import "strings"

// Boundary de-duplication bounds: when joining adjacent corrected chunks, the
// longest run of words shared between the end of one chunk and the start of
// the next is dropped from the latter, looking at runs of 3 to 15 words.
const (
	minBoundaryWords = 3
	maxBoundaryWords = 15
)

// splitChunks splits text into pieces of at most maxChars characters with
// overlap characters repeated between adjacent pieces. Splits happen at word
// boundaries so no word is cut in half.
func splitChunks(text string, maxChars, overlap int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}
		// Back up to the last space so the cut lands between words.
		cut := strings.LastIndexByte(text[start:end], ' ')
		if cut <= 0 {
			cut = maxChars
		}
		chunks = append(chunks, strings.TrimSpace(text[start:start+cut]))

		next := start + cut - overlap
		if next <= start {
			next = start + cut
		}
		start = next
	}
	return chunks
}

// joinChunks reassembles corrected chunks into one text, removing the words
// duplicated by the chunk overlap at each boundary.
func joinChunks(chunks []string) string {
	if len(chunks) == 0 {
		return ""
	}
	result := strings.Fields(chunks[0])
	for _, chunk := range chunks[1:] {
		words := strings.Fields(chunk)
		drop := boundaryOverlap(result, words)
		result = append(result, words[drop:]...)
	}
	return strings.Join(result, " ")
}

// boundaryOverlap returns the number of leading words of next that duplicate
// the trailing words of prev. It looks for the longest common suffix/prefix
// run between minBoundaryWords and maxBoundaryWords words.
func boundaryOverlap(prev, next []string) int {
	max := min(maxBoundaryWords, min(len(prev), len(next)))
	for n := max; n >= minBoundaryWords; n-- {
		if wordsEqual(prev[len(prev)-n:], next[:n]) {
			return n
		}
	}
	return 0
}

func wordsEqual(a, b []string) bool {
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
