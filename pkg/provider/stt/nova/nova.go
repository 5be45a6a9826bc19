// Package nova provides a structured stt.Engine backed by the Deepgram
// prerecorded transcription API (Nova family models).
//
// Unlike plain Whisper-style servers, Nova returns word-level timings,
// paragraph segmentation, and speaker diarization. The engine normalizes the
// nested channel/alternative response into the flat stt.Result the pipeline
// consumes.
package nova

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/castpipe/castpipe/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "nova-3"
	defaultTimeout = 5 * time.Minute
)

// Compile-time assertion that Engine implements stt.Engine.
var _ stt.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model (e.g. "nova-3", "nova-2"). Default: "nova-3".
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithBaseURL overrides the API endpoint, e.g. for a self-hosted gateway.
func WithBaseURL(baseURL string) Option {
	return func(e *Engine) {
		e.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLanguage sets the default language code. Per-call
// stt.Options.Language takes precedence. When neither is set the request
// enables language detection instead.
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = lang
	}
}

// WithSummarize toggles the service-side summary feature. Default: on.
func WithSummarize(enabled bool) Option {
	return func(e *Engine) {
		e.summarize = enabled
	}
}

// WithHTTPClient replaces the default HTTP client (5 minute timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = hc
	}
}

// Engine implements stt.Engine against the Deepgram prerecorded API.
// Safe for concurrent use.
type Engine struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	summarize  bool
	httpClient *http.Client
}

// New creates an Engine. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("nova: apiKey must not be empty")
	}
	e := &Engine{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		summarize:  true,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// novaResponse mirrors the subset of the prerecorded response the engine
// consumes. Pointer fields distinguish "absent" from "empty" so that an
// unrecognized shape can be rejected instead of silently producing an empty
// transcript.
type novaResponse struct {
	Results *struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript *string `json:"transcript"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Speaker        *int    `json:"speaker"`
				} `json:"words"`
				Paragraphs *struct {
					Paragraphs []struct {
						Sentences []struct {
							Text  string  `json:"text"`
							Start float64 `json:"start"`
							End   float64 `json:"end"`
						} `json:"sentences"`
						Speaker int     `json:"speaker"`
						Start   float64 `json:"start"`
						End     float64 `json:"end"`
					} `json:"paragraphs"`
				} `json:"paragraphs"`
			} `json:"alternatives"`
		} `json:"channels"`
		Summary *struct {
			Short string `json:"short"`
		} `json:"summary"`
	} `json:"results"`
}

// Transcribe submits audio bytes to /v1/listen and normalizes the response.
func (e *Engine) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (*stt.Result, error) {
	endpoint, err := e.buildURL(opts)
	if err != nil {
		return nil, fmt.Errorf("nova: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("nova: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+e.apiKey)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("nova: %w", ctx.Err())
		}
		return nil, &stt.TransientError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &stt.TransientError{Status: resp.StatusCode, Detail: "read body: " + err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 10 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &stt.RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode >= 500:
		return nil, &stt.TransientError{Status: resp.StatusCode, Detail: string(data)}

	default:
		return nil, fmt.Errorf("nova: service returned HTTP %d: %s", resp.StatusCode, data)
	}

	return decode(data)
}

// buildURL constructs the /v1/listen endpoint with the feature flags the
// pipeline relies on: word timings, diarization, and paragraphs.
func (e *Engine) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(e.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", e.model)
	q.Set("punctuate", "true")
	q.Set("diarize", "true")
	q.Set("paragraphs", "true")
	q.Set("smart_format", "true")
	if e.summarize {
		q.Set("summarize", "v2")
	}

	lang := opts.Language
	if lang == "" {
		lang = e.language
	}
	if lang != "" {
		q.Set("language", lang)
	} else {
		q.Set("detect_language", "true")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decode normalizes a raw prerecorded response into an stt.Result.
// A response without the channels/alternatives/transcript spine is an
// stt.ErrDecode — the engine never guesses at unknown shapes.
func decode(data []byte) (*stt.Result, error) {
	var resp novaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", stt.ErrDecode, err)
	}
	if resp.Results == nil || len(resp.Results.Channels) == 0 {
		return nil, fmt.Errorf("%w: response has no results.channels", stt.ErrDecode)
	}
	channel := resp.Results.Channels[0]
	if len(channel.Alternatives) == 0 {
		return nil, fmt.Errorf("%w: channel has no alternatives", stt.ErrDecode)
	}
	alt := channel.Alternatives[0]
	if alt.Transcript == nil {
		return nil, fmt.Errorf("%w: alternative has no transcript", stt.ErrDecode)
	}

	words := make([]stt.Word, 0, len(alt.Words))
	var speakers []int
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		words = append(words, stt.Word{Word: text, Start: w.Start, End: w.End})
		if w.Speaker != nil && !slices.Contains(speakers, *w.Speaker) {
			speakers = append(speakers, *w.Speaker)
		}
	}
	slices.Sort(speakers)

	meta := &stt.Metadata{
		Speakers: speakers,
		Language: channel.DetectedLanguage,
	}
	if alt.Paragraphs != nil {
		for _, p := range alt.Paragraphs.Paragraphs {
			var sentences []string
			for _, s := range p.Sentences {
				sentences = append(sentences, s.Text)
			}
			meta.Paragraphs = append(meta.Paragraphs, stt.Paragraph{
				Text:    strings.Join(sentences, " "),
				Start:   p.Start,
				End:     p.End,
				Speaker: p.Speaker,
			})
		}
	}
	if resp.Results.Summary != nil {
		meta.Summary = resp.Results.Summary.Short
	}

	return &stt.Result{Text: *alt.Transcript, Words: words, Metadata: meta}, nil
}
