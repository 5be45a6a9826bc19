package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// encodingFormatRe validates pipeline.encoding_formats entries.
var encodingFormatRe = regexp.MustCompile(`^(mp3|opus)_[0-9]+$`)

// Defaults applied by [Load] for values left unset.
const (
	DefaultChunkDurationSec   = 60
	DefaultOverlapDurationSec = 2
	DefaultChunkCodec         = "ogg"

	DefaultTranscoderTimeout = 15 * time.Minute
	DefaultPresignTTL        = time.Hour

	DefaultRetryBudget    = time.Hour
	DefaultRetryBaseDelay = 10 * time.Second
	DefaultRetryMaxDelay  = 5 * time.Minute
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Worker.LogLevel == "" {
		cfg.Worker.LogLevel = LogInfo
	}
	if cfg.Pipeline.ChunkDurationSec == 0 {
		cfg.Pipeline.ChunkDurationSec = DefaultChunkDurationSec
	}
	if cfg.Pipeline.OverlapDurationSec == 0 {
		cfg.Pipeline.OverlapDurationSec = DefaultOverlapDurationSec
	}
	if cfg.Pipeline.ChunkCodec == "" {
		cfg.Pipeline.ChunkCodec = DefaultChunkCodec
	}
	if cfg.Transcoder.RequestTimeout == 0 {
		cfg.Transcoder.RequestTimeout = DefaultTranscoderTimeout
	}
	if cfg.ObjectStore.PresignTTL == 0 {
		cfg.ObjectStore.PresignTTL = DefaultPresignTTL
	}
	if cfg.ObjectStore.Region == "" {
		cfg.ObjectStore.Region = "auto"
	}
	if cfg.Retry.Budget == 0 {
		cfg.Retry.Budget = DefaultRetryBudget
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = DefaultRetryMaxDelay
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Worker.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("worker.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Worker.LogLevel))
	}

	p := cfg.Pipeline
	if p.ChunkDurationSec <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_duration_sec must be positive, got %d", p.ChunkDurationSec))
	}
	if p.OverlapDurationSec < 0 {
		errs = append(errs, fmt.Errorf("pipeline.overlap_duration_sec must not be negative, got %d", p.OverlapDurationSec))
	}
	if p.ChunkDurationSec > 0 && p.OverlapDurationSec >= p.ChunkDurationSec {
		errs = append(errs, fmt.Errorf("pipeline.overlap_duration_sec (%d) must be less than chunk_duration_sec (%d)", p.OverlapDurationSec, p.ChunkDurationSec))
	}
	if len(p.EncodingFormats) == 0 {
		errs = append(errs, errors.New("pipeline.encoding_formats must list at least one rendition"))
	}
	for _, f := range p.EncodingFormats {
		if !encodingFormatRe.MatchString(f) {
			errs = append(errs, fmt.Errorf("pipeline.encoding_formats entry %q does not match codec_bitrate (e.g. mp3_128, opus_96)", f))
		}
	}
	switch p.ChunkCodec {
	case "ogg", "mp3", "opus":
	default:
		errs = append(errs, fmt.Errorf("pipeline.chunk_codec %q is invalid; valid values: ogg, mp3, opus", p.ChunkCodec))
	}
	if p.STTModel == "" {
		errs = append(errs, errors.New("pipeline.stt_model must be set"))
	}
	if p.Enhance && cfg.Providers.LLM.Name == "" && !p.UseStructuredSTTFeatures {
		errs = append(errs, errors.New("pipeline.enhance requires providers.llm.name or structured STT features"))
	}

	if cfg.Transcoder.BaseURL == "" {
		errs = append(errs, errors.New("transcoder.base_url must be set"))
	}

	if cfg.Retry.BaseDelay > cfg.Retry.MaxDelay {
		errs = append(errs, fmt.Errorf("retry.base_delay (%s) must not exceed retry.max_delay (%s)", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay))
	}

	return errors.Join(errs...)
}
