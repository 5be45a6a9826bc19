// Package whisper provides a plain (text-only) stt.Engine backed by a
// Whisper-compatible HTTP inference server.
//
// The server is expected to accept multipart/form-data POSTs on /inference
// with the audio under the "file" field and to respond with {"text": "..."}.
// Both whisper.cpp's whisper-server and Whisper-compatible gateway
// deployments speak this protocol.
//
// Usage:
//
//	e, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	result, err := e.Transcribe(ctx, audioBytes, stt.Options{ContentType: "audio/ogg"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/castpipe/castpipe/pkg/provider/stt"
)

const defaultTimeout = 5 * time.Minute

// Compile-time assertion that Engine implements stt.Engine.
var _ stt.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en"). When empty the server uses whichever model it was started
// with — this is the default.
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithLanguage sets the default language code sent with every request.
// Per-call stt.Options.Language takes precedence.
func WithLanguage(lang string) Option {
	return func(e *Engine) {
		e.language = lang
	}
}

// WithHTTPClient replaces the default HTTP client (5 minute timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Engine) {
		e.httpClient = hc
	}
}

// Engine implements stt.Engine against a Whisper-compatible HTTP server.
// Safe for concurrent use.
type Engine struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates an Engine for the server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Transcribe uploads audio as multipart form data and returns the plain-text
// result. The normalized Result carries an empty Words slice and nil
// Metadata — Whisper-style servers report text only.
func (e *Engine) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (*stt.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio"+extensionFor(opts.ContentType))
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, fmt.Errorf("whisper: write audio data: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = e.language
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return nil, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if e.model != "" {
		if err := mw.WriteField("model", e.model); err != nil {
			return nil, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("whisper: %w", ctx.Err())
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
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, data)
	}

	var result struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil || result.Text == nil {
		return nil, fmt.Errorf("%w: whisper response has no text field", stt.ErrDecode)
	}

	return &stt.Result{Text: *result.Text, Words: []stt.Word{}}, nil
}

// extensionFor maps a content type to a filename extension for the form
// upload. Servers key their demuxer off the filename.
func extensionFor(contentType string) string {
	switch contentType {
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
