package stt

// Word holds per-word timing detail from engines that support it.
// Times are in seconds relative to the start of the submitted audio.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Paragraph is a structured-engine paragraph with timing and an optional
// speaker label.
type Paragraph struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker int     `json:"speaker"`
}

// Metadata carries the structured extras a Nova-like engine produces beyond
// the transcript text. Plain engines leave the whole struct nil.
type Metadata struct {
	// Paragraphs is the paragraph segmentation with speaker attribution.
	Paragraphs []Paragraph `json:"paragraphs,omitempty"`

	// Speakers lists the distinct speaker indices observed, ascending.
	Speakers []int `json:"speakers,omitempty"`

	// Language is the detected language tag, when reported.
	Language string `json:"language,omitempty"`

	// Keywords and Summary are filled only by engines with the matching
	// features enabled.
	Keywords []string `json:"keywords,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

// Result is the normalized transcription of one audio submission.
type Result struct {
	// Text is the full transcript text.
	Text string `json:"text"`

	// Words is the word-level timing detail. Empty (non-nil) for plain
	// engines so callers can distinguish "no words" from "not yet set".
	Words []Word `json:"words"`

	// Metadata is nil for plain engines.
	Metadata *Metadata `json:"metadata,omitempty"`
}
