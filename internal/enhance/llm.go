package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/castpipe/castpipe/pkg/provider/llm"
)

const (
	// Chunking bounds for the correction pass. Long transcripts are sent to
	// the model in pieces; the overlap gives each piece enough left context
	// to correct words near its start.
	maxChunkChars     = 4000
	chunkOverlapChars = 200

	generationTemperature = 0.2
)

const promptSummary = `You are a podcast editor. Write a concise summary (3-5 sentences) of the following transcript. Respond with the summary text only, no preamble.`

const promptKeywords = `You are a podcast editor. Extract up to 10 topical keywords from the following transcript. Respond with ONLY a JSON array of strings, e.g. ["keyword one","keyword two"].`

const promptPersons = `You are a podcast editor. List the names of people mentioned in the following transcript. Respond with ONLY a JSON array of strings. Return [] if none are mentioned.`

const promptPlaces = `You are a podcast editor. List the places mentioned in the following transcript. Respond with ONLY a JSON array of strings. Return [] if none are mentioned.`

const promptChapters = `You are a podcast editor. Split the following transcript into chapters. Respond with ONLY a JSON array of objects {"title": string, "startSec": number}, ordered by startSec. Use short descriptive titles.`

const promptCorrect = `You are a transcript correction assistant for a podcast.

Your task: fix obvious speech-to-text errors in the provided transcript text.

Rules:
- ONLY correct words that are clearly mis-transcribed; the replacement must sound similar to the original.
- Do NOT rephrase, summarise, or change sentence structure.
- Be conservative: when in doubt, leave the word unchanged.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected text>",
  "corrections": [
    {"original": "<original word>", "corrected": "<corrected word>"}
  ]
}

If no corrections are needed, return an empty corrections array and corrected_text equal to the input.`

// correctResponse is the expected JSON structure of the correction pass.
type correctResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original  string `json:"original"`
		Corrected string `json:"corrected"`
	} `json:"corrections"`
}

// complete is the shared single-call helper for all generation tasks.
func (e *Enhancer) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: "user", Content: user}},
		Temperature:  generationTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (e *Enhancer) generateSummary(ctx context.Context, text string) (string, error) {
	return e.complete(ctx, promptSummary, text)
}

// generateList runs a prompt expected to return a JSON string array.
func (e *Enhancer) generateList(ctx context.Context, prompt, text string) ([]string, error) {
	content, err := e.complete(ctx, prompt, text)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal([]byte(stripFences(content)), &list); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return list, nil
}

func (e *Enhancer) generateChapters(ctx context.Context, in Input) ([]Chapter, error) {
	content, err := e.complete(ctx, promptChapters, in.Text)
	if err != nil {
		return nil, err
	}
	var chapters []Chapter
	if err := json.Unmarshal([]byte(stripFences(content)), &chapters); err != nil {
		return nil, fmt.Errorf("decode chapters response: %w", err)
	}
	return chapters, nil
}

// correctText runs the correction pass over the transcript in chunks and
// reassembles the result. Only corrections that survive phonetic
// verification are applied; the rest are reverted.
func (e *Enhancer) correctText(ctx context.Context, text string) (string, []Correction, error) {
	chunks := splitChunks(text, maxChunkChars, chunkOverlapChars)

	corrected := make([]string, len(chunks))
	perChunk := make([][]Correction, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLLMCalls)
	for i, chunk := range chunks {
		g.Go(func() error {
			content, err := e.complete(gctx, promptCorrect, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			var resp correctResponse
			if err := json.Unmarshal([]byte(stripFences(content)), &resp); err != nil {
				return fmt.Errorf("chunk %d: decode correction response: %w", i, err)
			}
			if resp.CorrectedText == "" {
				resp.CorrectedText = chunk
			}

			var candidates []Correction
			for _, c := range resp.Corrections {
				candidates = append(candidates, Correction{Original: c.Original, Corrected: c.Corrected})
			}
			verified, reverted := verifyCorrections(candidates)
			out := resp.CorrectedText
			for _, c := range reverted {
				out = revertCorrection(out, c)
			}
			corrected[i] = out
			perChunk[i] = verified
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	var all []Correction
	for _, cs := range perChunk {
		all = append(all, cs...)
	}
	return joinChunks(corrected), all, nil
}

// stripFences removes a markdown code fence the model may wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
