package enhance

import (
	"fmt"
	"strings"

	"github.com/castpipe/castpipe/pkg/provider/stt"
)

// fromStructured derives the full result from STT metadata without any model
// call: chapters from speaker change-points, markdown from paragraphs, and
// keywords/summary/language passed through.
func (e *Enhancer) fromStructured(in Input) *Result {
	meta := in.Metadata
	return &Result{
		Summary:  meta.Summary,
		Keywords: meta.Keywords,
		Chapters: chaptersFromSpeakerChanges(meta.Paragraphs),
		Speakers: meta.Speakers,
		Language: meta.Language,
		Markdown: markdownFromParagraphs(meta.Paragraphs),
		Text:     in.Text,
	}
}

// chaptersFromSpeakerChanges emits one chapter per speaker change-point. The
// first paragraph always opens a chapter; later paragraphs open one only when
// the speaker differs from the previous paragraph.
func chaptersFromSpeakerChanges(paragraphs []stt.Paragraph) []Chapter {
	var chapters []Chapter
	prevSpeaker := -1
	for _, p := range paragraphs {
		if len(chapters) > 0 && p.Speaker == prevSpeaker {
			continue
		}
		chapters = append(chapters, Chapter{
			Title:    chapterTitle(p),
			StartSec: p.Start,
		})
		prevSpeaker = p.Speaker
	}
	return chapters
}

// chapterTitle derives a short title from the paragraph's opening words.
func chapterTitle(p stt.Paragraph) string {
	const maxWords = 8
	words := strings.Fields(p.Text)
	if len(words) > maxWords {
		words = words[:maxWords]
		return strings.Join(words, " ") + "…"
	}
	if len(words) == 0 {
		return fmt.Sprintf("Speaker %d", p.Speaker)
	}
	return strings.Join(words, " ")
}

// markdownFromParagraphs renders paragraphs as a markdown document with
// per-paragraph speaker and timestamp annotations.
func markdownFromParagraphs(paragraphs []stt.Paragraph) string {
	var b strings.Builder
	for i, p := range paragraphs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "**Speaker %d** _[%s]_\n\n%s", p.Speaker, formatTimestamp(p.Start), p.Text)
	}
	return b.String()
}
