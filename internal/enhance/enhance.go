// Package enhance implements the optional post-transcription enhancement
// stage: summary, keywords, chapters, persons, places, and word-level
// corrections for a merged transcript.
//
// Two paths produce the result. When the STT engine already returned
// structured metadata (paragraphs, speakers, keywords), the enhancer derives
// everything from it without any model call. Otherwise it invokes an
// [llm.Provider] over the transcript text in bounded chunks.
//
// Enhancement is strictly best-effort: a failure in any sub-call degrades
// gracefully to whatever was produced so far, and the stage never fails the
// pipeline. Callers inspect [Result.Warnings] for partial failures.
package enhance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/castpipe/castpipe/pkg/provider/llm"
	"github.com/castpipe/castpipe/pkg/provider/stt"
)

// maxConcurrentLLMCalls bounds in-flight model calls for one enhancement run.
const maxConcurrentLLMCalls = 6

// Chapter is one entry of the derived chapter list.
type Chapter struct {
	Title    string  `json:"title"`
	StartSec float64 `json:"startSec"`
}

// Correction is one verified word-level substitution.
type Correction struct {
	Original  string `json:"original"`
	Corrected string `json:"corrected"`
}

// Result is the enhanced transcript metadata.
type Result struct {
	Summary     string       `json:"summary,omitempty"`
	Keywords    []string     `json:"keywords,omitempty"`
	Chapters    []Chapter    `json:"chapters,omitempty"`
	Persons     []string     `json:"persons,omitempty"`
	Places      []string     `json:"places,omitempty"`
	Speakers    []int        `json:"speakers,omitempty"`
	Language    string       `json:"language,omitempty"`
	Markdown    string       `json:"markdown,omitempty"`
	Text        string       `json:"text"`
	Corrections []Correction `json:"corrections,omitempty"`

	// Warnings lists sub-tasks that failed and were skipped.
	Warnings []string `json:"warnings,omitempty"`
}

// Input is the merged transcript handed to the enhancer.
type Input struct {
	Text     string
	Words    []stt.Word
	Metadata *stt.Metadata
}

// Option is a functional option for configuring an Enhancer.
type Option func(*Enhancer)

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enhancer) {
		e.logger = logger
	}
}

// Enhancer produces enhanced transcript metadata. Safe for concurrent use.
// The llm provider may be nil; then only the structured fast path is
// available and plain transcripts come back with Text set and a warning.
type Enhancer struct {
	llm    llm.Provider
	logger *slog.Logger
}

// New creates an Enhancer. llm may be nil to disable the model path.
func New(provider llm.Provider, opts ...Option) *Enhancer {
	e := &Enhancer{
		llm:    provider,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enhance produces a Result for in. It never returns an error: sub-task
// failures are logged and recorded in Result.Warnings.
func (e *Enhancer) Enhance(ctx context.Context, in Input) *Result {
	if in.Metadata != nil && len(in.Metadata.Paragraphs) > 0 {
		return e.fromStructured(in)
	}
	if e.llm == nil {
		return &Result{
			Text:     in.Text,
			Warnings: []string{"no LLM provider configured and no structured metadata available"},
		}
	}
	return e.fromLLM(ctx, in)
}

// fromLLM runs the generation tasks concurrently over the transcript text.
// The group never propagates errors; each task records its own warning.
func (e *Enhancer) fromLLM(ctx context.Context, in Input) *Result {
	result := &Result{Text: in.Text}

	var mu sync.Mutex
	warn := func(taskName string, err error) {
		e.logger.Warn("enhancement task failed", "task", taskName, "error", err)
		mu.Lock()
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", taskName, err))
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLLMCalls)

	g.Go(func() error {
		summary, err := e.generateSummary(gctx, in.Text)
		if err != nil {
			warn("summary", err)
			return nil
		}
		mu.Lock()
		result.Summary = summary
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		keywords, err := e.generateList(gctx, promptKeywords, in.Text)
		if err != nil {
			warn("keywords", err)
			return nil
		}
		mu.Lock()
		result.Keywords = keywords
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		persons, err := e.generateList(gctx, promptPersons, in.Text)
		if err != nil {
			warn("persons", err)
			return nil
		}
		mu.Lock()
		result.Persons = persons
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		places, err := e.generateList(gctx, promptPlaces, in.Text)
		if err != nil {
			warn("places", err)
			return nil
		}
		mu.Lock()
		result.Places = places
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		chapters, err := e.generateChapters(gctx, in)
		if err != nil {
			warn("chapters", err)
			return nil
		}
		mu.Lock()
		result.Chapters = chapters
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		text, corrections, err := e.correctText(gctx, in.Text)
		if err != nil {
			warn("corrections", err)
			return nil
		}
		mu.Lock()
		result.Text = text
		result.Corrections = corrections
		mu.Unlock()
		return nil
	})

	g.Wait()

	result.Markdown = markdownFromText(result.Text, result.Chapters)
	return result
}

// markdownFromText renders a minimal markdown document: chapter headings
// followed by the transcript text.
func markdownFromText(text string, chapters []Chapter) string {
	var b strings.Builder
	if len(chapters) > 0 {
		b.WriteString("## Chapters\n\n")
		for _, ch := range chapters {
			fmt.Fprintf(&b, "- [%s] %s\n", formatTimestamp(ch.StartSec), ch.Title)
		}
		b.WriteString("\n")
	}
	b.WriteString(text)
	return b.String()
}

// formatTimestamp renders seconds as h:mm:ss or m:ss.
func formatTimestamp(sec float64) string {
	total := int(sec)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
