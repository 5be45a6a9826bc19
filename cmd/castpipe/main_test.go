package main

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/castpipe/castpipe/internal/config"
	"github.com/castpipe/castpipe/pkg/provider/llm/anyllm"
	openaillm "github.com/castpipe/castpipe/pkg/provider/llm/openai"
)

func llmConfig(name, baseURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{
		Name:    name,
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gpt-4o-mini",
	}
	return cfg
}

func TestBuildLLMProviderSelectsBackend(t *testing.T) {
	p, err := buildLLMProvider(llmConfig("", ""))
	if err != nil || p != nil {
		t.Errorf("no provider name: got %T, %v, want nil, nil", p, err)
	}

	// Plain OpenAI uses the official SDK directly.
	p, err = buildLLMProvider(llmConfig("openai", ""))
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := p.(*openaillm.Provider); !ok {
		t.Errorf("openai without base_url: got %T, want *openai.Provider", p)
	}

	// A base_url override means a gateway: routed through any-llm.
	p, err = buildLLMProvider(llmConfig("openai", "http://gateway:8080/v1"))
	if err != nil {
		t.Fatalf("openai via gateway: %v", err)
	}
	if _, ok := p.(*anyllm.Provider); !ok {
		t.Errorf("openai with base_url: got %T, want *anyllm.Provider", p)
	}

	p, err = buildLLMProvider(llmConfig("mistral", ""))
	if err != nil {
		t.Fatalf("mistral: %v", err)
	}
	if _, ok := p.(*anyllm.Provider); !ok {
		t.Errorf("mistral: got %T, want *anyllm.Provider", p)
	}
}

func TestBuildSTTEngineRejectsUnknownModel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Pipeline.STTModel = "@cf/suno/bark"
	if _, err := buildSTTEngine(cfg); err == nil {
		t.Error("unknown stt model accepted")
	}
}

func TestSummaryValue(t *testing.T) {
	if got := summaryValue(""); got != "(not configured)" {
		t.Errorf("empty = %q", got)
	}
	if got := summaryValue("postgres"); got != "postgres" {
		t.Errorf("short value = %q, want unchanged", got)
	}

	long := "a-rather-long-transcoder-hostname"
	if got := summaryValue(long); got != long[:16]+"…" {
		t.Errorf("long value = %q", got)
	}

	// Truncation must never split a multi-byte rune.
	wide := strings.Repeat("ü", 25)
	got := summaryValue(wide)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated value %q is not valid UTF-8", got)
	}
	if want := strings.Repeat("ü", 16) + "…"; got != want {
		t.Errorf("wide value = %q, want %q", got, want)
	}
}
