// Package config provides the configuration schema and loader for the
// castpipe audio-processing worker.
package config

import "time"

// LogLevel controls log verbosity for the worker.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the worker.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Worker      WorkerConfig      `yaml:"worker"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Transcoder  TranscoderConfig  `yaml:"transcoder"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Retry       RetryConfig       `yaml:"retry"`
}

// WorkerConfig holds process-level settings.
type WorkerConfig struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus metrics endpoint listens
	// on (e.g. ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// PipelineConfig holds the per-run tunables of the audio pipeline. Every
// value here is read by exactly one step at initialization; steps never
// hard-code their own copies.
type PipelineConfig struct {
	// ChunkDurationSec is the nominal chunk length for transcription.
	// Default: 60. Forced to 600 when UseStructuredSTTFeatures is set.
	ChunkDurationSec int `yaml:"chunk_duration_sec"`

	// OverlapDurationSec is the overlap appended to each non-final chunk.
	// Must be less than ChunkDurationSec. Default: 2. Forced to 30 when
	// UseStructuredSTTFeatures is set.
	OverlapDurationSec int `yaml:"overlap_duration_sec"`

	// EncodingFormats lists the output renditions as "codec_bitrate" entries,
	// e.g. ["mp3_128", "opus_96"]. Codec must be mp3 or opus.
	EncodingFormats []string `yaml:"encoding_formats"`

	// ChunkCodec is the intermediate codec for the low-bitrate processing
	// copy and its chunks. Default: "ogg".
	ChunkCodec string `yaml:"chunk_codec"`

	// STTModel selects the speech engine, e.g. "@cf/openai/whisper" or
	// "@cf/deepgram/nova-3".
	STTModel string `yaml:"stt_model"`

	// STTLanguage is the expected spoken language. Empty requests detection
	// where the engine supports it.
	STTLanguage string `yaml:"stt_language"`

	// UseStructuredSTTFeatures enables word timings, diarization, and
	// paragraphs from the STT engine, and switches chunking to long chunks.
	UseStructuredSTTFeatures bool `yaml:"use_structured_stt_features"`

	// Enhance enables the optional LLM enhancement step. Requires an LLM
	// provider to be configured.
	Enhance bool `yaml:"enhance"`
}

// ProvidersConfig declares the external AI providers.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by provider types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g. "openai", "anthropic"
	// for LLM providers). For STT the engine is derived from
	// pipeline.stt_model instead.
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g. "gpt-4o").
	Model string `yaml:"model"`
}

// TranscoderConfig points at the FFmpeg transcoder worker.
type TranscoderConfig struct {
	// BaseURL is the transcoder's HTTP endpoint (e.g. "http://transcoder:8090").
	BaseURL string `yaml:"base_url"`

	// RequestTimeout bounds a single /encode or /chunk call. Default: 15m.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ObjectStoreConfig holds the S3-compatible object store settings.
type ObjectStoreConfig struct {
	// Endpoint is the S3-compatible endpoint URL
	// (e.g. "https://<account>.r2.cloudflarestorage.com").
	Endpoint string `yaml:"endpoint"`

	// Bucket is the bucket holding all pipeline objects.
	Bucket string `yaml:"bucket"`

	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// Region for SigV4 signing. R2 uses "auto".
	Region string `yaml:"region"`

	// PresignTTL bounds presigned URL validity. Default: 1h.
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

// PostgresConfig holds the persistence settings. When DSN is empty the worker
// falls back to in-memory stores, which is only useful for local testing.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RetryConfig holds the external-call retry budget tunables.
type RetryConfig struct {
	// Budget caps the total wall-clock time of one retried external call,
	// including sleeps. Default: 1h.
	Budget time.Duration `yaml:"budget"`

	// BaseDelay is the first backoff delay. Default: 10s.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the exponential backoff. Default: 5m.
	MaxDelay time.Duration `yaml:"max_delay"`
}
