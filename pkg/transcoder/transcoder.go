// Package transcoder provides a typed client for the external FFmpeg worker
// service. The worker exposes two JSON endpoints:
//
//	POST /encode — re-encode one audio file and upload it to a presigned URL.
//	POST /chunk  — split one audio file into N overlapping pieces, each
//	               uploaded to its own presigned URL.
//
// The client performs no retries itself; it surfaces typed errors
// ([*RateLimitError], [*TransientError], [*EncodingError]) so the caller can
// drive its own retry policy.
package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout    = 10 * time.Minute
	defaultRetryAfter = 10 * time.Second
)

// containerMarkers are body substrings the worker emits when its FFmpeg
// container is mid-restart. These responses are transient regardless of the
// status code.
var containerMarkers = []string{
	"Container suddenly disconnected",
	"Container not available",
}

// EncodingError is a functional failure reported by the worker itself
// (HTTP 2xx with success=false). It is never retried.
type EncodingError struct {
	Detail string
}

func (e *EncodingError) Error() string {
	return "transcoder: encoding failed: " + e.Detail
}

// RateLimitError is an HTTP 429 response. RetryAfter carries the delay the
// worker requested (default 10s when the response omits it).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("transcoder: rate limited, retry after %s", e.RetryAfter)
}

// TransientError is a service-side failure expected to clear on its own:
// HTTP 503, a container-restart marker in the body, or a transport failure.
type TransientError struct {
	Status int // 0 for transport failures
	Detail string
	cause  error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transcoder: transient failure (HTTP %d): %s", e.Status, e.Detail)
	}
	return "transcoder: transient failure: " + e.Detail
}

func (e *TransientError) Unwrap() error { return e.cause }

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (10 minute timeout).
// Encode and chunk jobs on long episodes routinely run for minutes, so the
// caller-supplied client should carry a generous timeout too.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client is a typed wrapper around the FFmpeg worker API.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the worker at baseURL (e.g. "http://transcoder:8080").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("transcoder: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// EncodeRequest describes a single-file re-encode job.
type EncodeRequest struct {
	// AudioSourceURL is a readable (typically presigned GET) URL of the input.
	AudioSourceURL string

	// UploadURL is a presigned PUT URL the worker writes the output to.
	UploadURL string

	// Codec is "mp3" or "opus".
	Codec string

	// BitrateKbps is the target bitrate.
	BitrateKbps int

	// Channels optionally forces a channel count (1 = mono downmix).
	Channels int

	// SampleRateHz optionally forces an output sample rate.
	SampleRateHz int
}

// EncodeResult carries the output metadata reported by the worker.
type EncodeResult struct {
	DurationSec float64
	SizeBytes   int64
}

// ChunkUpload names one chunk slot: its index, object key, and the presigned
// PUT URL the worker uploads it to.
type ChunkUpload struct {
	Index     int
	Key       string
	UploadURL string
}

// ChunkRequest describes a split job over one audio file.
type ChunkRequest struct {
	AudioSourceURL     string
	ChunkUploads       []ChunkUpload
	ChunkDurationSec   int
	OverlapDurationSec int
	TotalDurationSec   float64

	// Codec and BitrateKbps optionally select the chunk output format.
	// Empty/zero leaves the worker default.
	Codec       string
	BitrateKbps int
}

// ChunkResult reports which chunks were produced.
type ChunkResult struct {
	Chunks []ProducedChunk
}

// ProducedChunk is one uploaded chunk as confirmed by the worker.
type ProducedChunk struct {
	Index int
	Key   string
}

// ---- wire types --------------------------------------------------------------

type encodeBody struct {
	AudioURL     string `json:"audioUrl"`
	UploadURL    string `json:"uploadUrl"`
	OutputFormat string `json:"outputFormat"`
	Bitrate      int    `json:"bitrate"`
	Channels     int    `json:"channels,omitempty"`
	SampleRate   int    `json:"sampleRate,omitempty"`
}

type chunkUploadBody struct {
	Index     int    `json:"index"`
	R2Key     string `json:"r2Key"`
	UploadURL string `json:"uploadUrl"`
}

type chunkBody struct {
	AudioURL        string            `json:"audioUrl"`
	ChunkUploadURLs []chunkUploadBody `json:"chunkUploadUrls"`
	ChunkDuration   int               `json:"chunkDuration"`
	OverlapDuration int               `json:"overlapDuration"`
	Duration        float64           `json:"duration"`
	OutputFormat    string            `json:"outputFormat,omitempty"`
	Bitrate         int               `json:"bitrate,omitempty"`
}

type workerResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Metadata *struct {
		Duration float64 `json:"duration"`
		Size     int64   `json:"size"`
	} `json:"metadata"`
	Chunks []struct {
		Index int    `json:"index"`
		R2Key string `json:"r2Key"`
	} `json:"chunks"`
	RetryAfter int `json:"retryAfter"`
}

// ---- operations --------------------------------------------------------------

// Encode submits a re-encode job and blocks until the worker reports the
// outcome.
func (c *Client) Encode(ctx context.Context, req EncodeRequest) (*EncodeResult, error) {
	body := encodeBody{
		AudioURL:     req.AudioSourceURL,
		UploadURL:    req.UploadURL,
		OutputFormat: req.Codec,
		Bitrate:      req.BitrateKbps,
		Channels:     req.Channels,
		SampleRate:   req.SampleRateHz,
	}
	resp, err := c.post(ctx, "/encode", body)
	if err != nil {
		return nil, err
	}
	result := &EncodeResult{}
	if resp.Metadata != nil {
		result.DurationSec = resp.Metadata.Duration
		result.SizeBytes = resp.Metadata.Size
	}
	return result, nil
}

// Chunk submits a split job and blocks until every chunk has been uploaded.
func (c *Client) Chunk(ctx context.Context, req ChunkRequest) (*ChunkResult, error) {
	uploads := make([]chunkUploadBody, 0, len(req.ChunkUploads))
	for _, u := range req.ChunkUploads {
		uploads = append(uploads, chunkUploadBody{Index: u.Index, R2Key: u.Key, UploadURL: u.UploadURL})
	}
	body := chunkBody{
		AudioURL:        req.AudioSourceURL,
		ChunkUploadURLs: uploads,
		ChunkDuration:   req.ChunkDurationSec,
		OverlapDuration: req.OverlapDurationSec,
		Duration:        req.TotalDurationSec,
		OutputFormat:    req.Codec,
		Bitrate:         req.BitrateKbps,
	}
	resp, err := c.post(ctx, "/chunk", body)
	if err != nil {
		return nil, err
	}
	result := &ChunkResult{Chunks: make([]ProducedChunk, 0, len(resp.Chunks))}
	for _, ch := range resp.Chunks {
		result.Chunks = append(result.Chunks, ProducedChunk{Index: ch.Index, Key: ch.R2Key})
	}
	return result, nil
}

// post sends body to path and classifies the response per the worker's
// contract. A nil error implies resp.Success was true.
func (c *Client) post(ctx context.Context, path string, body any) (*workerResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transcoder: marshal %s body: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("transcoder: create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transcoder: %s: %w", path, ctx.Err())
		}
		return nil, &TransientError{Detail: err.Error(), cause: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransientError{Status: httpResp.StatusCode, Detail: "read body: " + err.Error(), cause: err}
	}

	if err := classifyStatus(httpResp.StatusCode, raw); err != nil {
		return nil, err
	}

	var resp workerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("transcoder: parse %s response: %w", path, err)
	}
	if !resp.Success {
		return nil, &EncodingError{Detail: resp.Error}
	}
	return &resp, nil
}

// classifyStatus maps a non-2xx response (or a container-restart body) to the
// appropriate typed error. Returns nil for healthy 2xx responses.
func classifyStatus(status int, body []byte) error {
	text := string(body)
	for _, marker := range containerMarkers {
		if strings.Contains(text, marker) {
			return &TransientError{Status: status, Detail: marker}
		}
	}

	switch {
	case status >= 200 && status < 300:
		return nil

	case status == http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		var resp workerResponse
		if err := json.Unmarshal(body, &resp); err == nil && resp.RetryAfter > 0 {
			retryAfter = time.Duration(resp.RetryAfter) * time.Second
		}
		return &RateLimitError{RetryAfter: retryAfter}

	case status == http.StatusServiceUnavailable:
		return &TransientError{Status: status, Detail: strings.TrimSpace(text)}

	default:
		return fmt.Errorf("transcoder: worker returned HTTP %d: %s", status, strings.TrimSpace(text))
	}
}
