package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
worker:
  log_level: debug
pipeline:
  chunk_duration_sec: 30
  overlap_duration_sec: 2
  encoding_formats: [mp3_128, opus_96]
  stt_model: "@cf/openai/whisper"
transcoder:
  base_url: http://transcoder:8090
object_store:
  endpoint: https://acc.r2.cloudflarestorage.com
  bucket: podcasts
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Pipeline.ChunkDurationSec != 30 {
		t.Errorf("ChunkDurationSec = %d", cfg.Pipeline.ChunkDurationSec)
	}
	if len(cfg.Pipeline.EncodingFormats) != 2 {
		t.Errorf("EncodingFormats = %v", cfg.Pipeline.EncodingFormats)
	}

	// Defaults.
	if cfg.Pipeline.ChunkCodec != "ogg" {
		t.Errorf("ChunkCodec default = %q, want ogg", cfg.Pipeline.ChunkCodec)
	}
	if cfg.Retry.Budget != time.Hour {
		t.Errorf("Retry.Budget default = %v, want 1h", cfg.Retry.Budget)
	}
	if cfg.ObjectStore.Region != "auto" {
		t.Errorf("Region default = %q, want auto", cfg.ObjectStore.Region)
	}
	if cfg.ObjectStore.PresignTTL != time.Hour {
		t.Errorf("PresignTTL default = %v, want 1h", cfg.ObjectStore.PresignTTL)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := validYAML + "\nunknown_section:\n  foo: bar\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Pipeline.ChunkDurationSec = 10
	cfg.Pipeline.OverlapDurationSec = 10 // not < chunk duration
	cfg.Pipeline.EncodingFormats = []string{"mp3_128", "flac_900", "mp3"}
	cfg.Pipeline.STTModel = ""
	cfg.Transcoder.BaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted invalid config")
	}
	for _, want := range []string{
		"overlap_duration_sec",
		"flac_900",
		`"mp3"`,
		"stt_model",
		"transcoder.base_url",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_EnhanceNeedsLLMOrStructured(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	cfg.Pipeline.Enhance = true
	if err := Validate(cfg); err == nil {
		t.Error("enhance without LLM or structured STT accepted")
	}

	cfg.Providers.LLM.Name = "openai"
	if err := Validate(cfg); err != nil {
		t.Errorf("enhance with LLM rejected: %v", err)
	}

	cfg.Providers.LLM.Name = ""
	cfg.Pipeline.UseStructuredSTTFeatures = true
	if err := Validate(cfg); err != nil {
		t.Errorf("enhance with structured STT rejected: %v", err)
	}
}
