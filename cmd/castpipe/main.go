// Command castpipe runs the podcast audio-processing pipeline for a single
// episode: encode, chunk, transcribe, enhance, publish. Runs are durable;
// re-invoking with the same -workflow id resumes where the previous attempt
// stopped.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/castpipe/castpipe/internal/config"
	"github.com/castpipe/castpipe/internal/enhance"
	"github.com/castpipe/castpipe/internal/episode"
	epmem "github.com/castpipe/castpipe/internal/episode/memstore"
	"github.com/castpipe/castpipe/internal/observe"
	"github.com/castpipe/castpipe/internal/pipeline"
	"github.com/castpipe/castpipe/internal/retry"
	"github.com/castpipe/castpipe/internal/step"
	"github.com/castpipe/castpipe/internal/store/postgres"
	"github.com/castpipe/castpipe/internal/task"
	taskmem "github.com/castpipe/castpipe/internal/task/memstore"
	"github.com/castpipe/castpipe/pkg/objstore"
	objmem "github.com/castpipe/castpipe/pkg/objstore/memstore"
	"github.com/castpipe/castpipe/pkg/objstore/r2"
	"github.com/castpipe/castpipe/pkg/provider/llm"
	"github.com/castpipe/castpipe/pkg/provider/llm/anyllm"
	openaillm "github.com/castpipe/castpipe/pkg/provider/llm/openai"
	"github.com/castpipe/castpipe/pkg/provider/stt"
	"github.com/castpipe/castpipe/pkg/provider/stt/nova"
	"github.com/castpipe/castpipe/pkg/provider/stt/whisper"
	"github.com/castpipe/castpipe/pkg/transcoder"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	episodeID := flag.String("episode", "", "episode id to process")
	audioKey := flag.String("audio", "", "object key of the input audio (optionally r2://-prefixed)")
	taskID := flag.String("task", "", "existing task id to report progress on (default: create one)")
	workflowID := flag.String("workflow", "", "workflow id to resume (default: start a new workflow)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "castpipe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "castpipe: %v\n", err)
		}
		return 1
	}
	if *episodeID == "" || *audioKey == "" {
		fmt.Fprintln(os.Stderr, "castpipe: -episode and -audio are required")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Worker.LogLevel)
	slog.SetDefault(logger)

	slog.Info("castpipe starting",
		"config", *configPath,
		"episode", *episodeID,
		"log_level", cfg.Worker.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "castpipe"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	var metricsSrv *http.Server
	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.MetricsHandler())
		metricsSrv = &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics endpoint error", "err", err)
			}
		}()
		defer metricsSrv.Close()
		slog.Info("metrics endpoint listening", "addr", cfg.Worker.MetricsAddr)
	}

	// ── Persistence ───────────────────────────────────────────────────────────
	var (
		tasks    task.Store
		episodes episode.Store
		steps    step.Log
	)
	if cfg.Postgres.DSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pg.Close()
		tasks, episodes, steps = pg.Tasks(), pg.Episodes(), pg.Steps()
		slog.Info("postgres connected")
	} else {
		slog.Warn("no postgres dsn configured, using in-memory stores (state is lost on exit)")
		epStore := epmem.New()
		epStore.Seed(episode.Episode{ID: *episodeID})
		tasks, episodes, steps = taskmem.New(), epStore, step.NewMemLog()
	}

	// ── Object store ──────────────────────────────────────────────────────────
	var store objstore.Store
	if cfg.ObjectStore.Endpoint != "" {
		store, err = r2.New(ctx, r2.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			Region:          cfg.ObjectStore.Region,
		})
		if err != nil {
			slog.Error("failed to create object store", "err", err)
			return 1
		}
	} else {
		slog.Warn("no object store endpoint configured, using in-memory store")
		store = objmem.New()
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	trans, err := transcoder.New(cfg.Transcoder.BaseURL,
		transcoder.WithHTTPClient(&http.Client{Timeout: cfg.Transcoder.RequestTimeout}))
	if err != nil {
		slog.Error("failed to create transcoder client", "err", err)
		return 1
	}

	engine, err := buildSTTEngine(cfg)
	if err != nil {
		slog.Error("failed to create stt engine", "err", err)
		return 1
	}
	slog.Info("stt engine ready", "model", cfg.Pipeline.STTModel)

	var enhancer *enhance.Enhancer
	if cfg.Pipeline.Enhance {
		provider, err := buildLLMProvider(cfg)
		if err != nil {
			slog.Error("failed to create llm provider", "err", err)
			return 1
		}
		enhancer = enhance.New(provider, enhance.WithLogger(logger))
		if provider != nil {
			slog.Info("llm provider ready", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
		}
	}

	printStartupSummary(cfg)

	// ── Task & workflow identity ──────────────────────────────────────────────
	wf := *workflowID
	if wf == "" {
		wf = uuid.NewString()
	}
	tid := *taskID
	if tid == "" {
		payload, _ := json.Marshal(map[string]string{
			"episodeId":     *episodeID,
			"inputAudioKey": *audioKey,
			"workflowId":    wf,
		})
		t, err := tasks.Create(ctx, task.KindProcessAudio, payload, "")
		if err != nil {
			slog.Error("failed to create task", "err", err)
			return 1
		}
		tid = t.ID
	}
	slog.Info("starting pipeline run", "workflow", wf, "task", tid)

	// ── Run ───────────────────────────────────────────────────────────────────
	driver := pipeline.NewDriver(pipeline.Deps{
		Store:      store,
		Transcoder: trans,
		STT:        engine,
		Enhancer:   enhancer,
		Tasks:      tasks,
		Episodes:   episodes,
		Steps:      steps,
		Pipeline:   cfg.Pipeline,
		Retry: retry.Config{
			Budget:    cfg.Retry.Budget,
			BaseDelay: cfg.Retry.BaseDelay,
			MaxDelay:  cfg.Retry.MaxDelay,
		},
		PresignTTL: cfg.ObjectStore.PresignTTL,
		Metrics:    observe.DefaultMetrics(),
		Logger:     logger,
	})

	ref := pipeline.EpisodeRef{EpisodeID: *episodeID, InputAudioKey: *audioKey}
	if err := driver.Run(ctx, wf, ref, tid); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("run interrupted, resume with the same -workflow id", "workflow", wf)
		} else {
			slog.Error("pipeline run failed", "workflow", wf, "err", err)
		}
		return 1
	}
	slog.Info("goodbye", "workflow", wf)
	return 0
}

// buildSTTEngine selects the speech engine from pipeline.stt_model. The
// model string follows the Workers AI catalog naming.
func buildSTTEngine(cfg *config.Config) (stt.Engine, error) {
	entry := cfg.Providers.STT
	model := cfg.Pipeline.STTModel
	switch {
	case strings.Contains(model, "whisper"):
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if cfg.Pipeline.STTLanguage != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Pipeline.STTLanguage))
		}
		return whisper.New(entry.BaseURL, opts...)
	case strings.Contains(model, "nova"):
		opts := []nova.Option{nova.WithSummarize(cfg.Pipeline.UseStructuredSTTFeatures)}
		if entry.BaseURL != "" {
			opts = append(opts, nova.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, nova.WithModel(entry.Model))
		}
		if cfg.Pipeline.STTLanguage != "" && cfg.Pipeline.STTLanguage != "auto" {
			opts = append(opts, nova.WithLanguage(cfg.Pipeline.STTLanguage))
		}
		return nova.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unsupported stt model %q", model)
	}
}

// buildLLMProvider creates the enhancement LLM from providers.llm. A missing
// name is allowed: enhancement then degrades to the structured-metadata path.
// Plain OpenAI goes through the official SDK; a base_url override means a
// gateway is in play, which the any-llm router handles alongside every other
// provider name.
func buildLLMProvider(cfg *config.Config) (llm.Provider, error) {
	entry := cfg.Providers.LLM
	if entry.Name == "" {
		return nil, nil
	}
	if entry.Name == "openai" && entry.BaseURL == "" {
		return openaillm.New(entry.APIKey, entry.Model)
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         castpipe — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("STT model", cfg.Pipeline.STTModel)
	printEntry("LLM", cfg.Providers.LLM.Name)
	printEntry("Chunking", fmt.Sprintf("%ds +%ds", cfg.Pipeline.ChunkDurationSec, cfg.Pipeline.OverlapDurationSec))
	printEntry("Renditions", strings.Join(cfg.Pipeline.EncodingFormats, ","))
	printEntry("Transcoder", cfg.Transcoder.BaseURL)
	if cfg.Postgres.DSN != "" {
		printEntry("Persistence", "postgres")
	} else {
		printEntry("Persistence", "in-memory")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, summaryValue(value))
}

// summaryValue fits a value into the summary box column, truncating on rune
// boundaries so multi-byte values stay valid UTF-8.
func summaryValue(value string) string {
	if value == "" {
		return "(not configured)"
	}
	if r := []rune(value); len(r) > 19 {
		return string(r[:16]) + "…"
	}
	return value
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
