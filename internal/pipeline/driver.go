package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castpipe/castpipe/internal/config"
	"github.com/castpipe/castpipe/internal/enhance"
	"github.com/castpipe/castpipe/internal/episode"
	"github.com/castpipe/castpipe/internal/observe"
	"github.com/castpipe/castpipe/internal/retry"
	"github.com/castpipe/castpipe/internal/step"
	"github.com/castpipe/castpipe/internal/task"
	"github.com/castpipe/castpipe/pkg/keys"
	"github.com/castpipe/castpipe/pkg/objstore"
	"github.com/castpipe/castpipe/pkg/provider/stt"
	"github.com/castpipe/castpipe/pkg/transcoder"
)

// Step names, in execution order. Also the keys of the durable step log.
const (
	stepInitialize    = "initialize"
	stepEncode        = "encode-for-processing"
	stepChunk         = "prepare-and-chunk"
	stepTranscribe    = "transcribe"
	stepEnhance       = "enhance"
	stepFinalEncode   = "final-encode"
	stepUpdateEpisode = "update-episode"
	stepCleanup       = "cleanup"
	stepFinalize      = "finalize"
)

// transcribeConcurrency bounds parallel chunk transcriptions.
const transcribeConcurrency = 3

// Parameters of the low-bitrate processing copy: Opus mono at 24 kbps and
// 16 kHz, enough for speech recognition at a fraction of the transfer cost.
const (
	processingCodec      = "opus"
	processingBitrate    = 24
	processingChannels   = 1
	processingSampleRate = 16000
)

// Structured STT engines work best on long chunks; these override the
// configured chunking when structured features are enabled. Decided once at
// initialization and persisted with the workflow state.
const (
	structuredChunkDurationSec   = 600
	structuredOverlapDurationSec = 30
)

// Per-step retry policies.
var stepPolicies = map[string]step.Policy{
	stepInitialize:    {Timeout: time.Minute},
	stepEncode:        {Retries: 2, Delay: 5 * time.Second, Timeout: 10 * time.Minute},
	stepChunk:         {Retries: 3, Delay: 10 * time.Second, Backoff: step.BackoffExponential, Timeout: 12 * time.Minute},
	stepTranscribe:    {Retries: 2, Delay: 10 * time.Second, Backoff: step.BackoffExponential, Timeout: 20 * time.Minute},
	stepEnhance:       {Retries: 2, Delay: 10 * time.Second, Backoff: step.BackoffExponential, Timeout: 10 * time.Minute},
	stepFinalEncode:   {Retries: 3, Delay: 10 * time.Second, Backoff: step.BackoffExponential, Timeout: 15 * time.Minute},
	stepUpdateEpisode: {Retries: 2, Delay: 5 * time.Second, Timeout: 5 * time.Minute},
	stepCleanup:       {Retries: 1, Delay: 2 * time.Second, Timeout: time.Minute},
	stepFinalize:      {Retries: 2, Delay: 2 * time.Second, Timeout: 5 * time.Minute},
}

// stepProgress maps each completed step to the overall progress percentage
// reported to the task store.
var stepProgress = map[string]int{
	stepInitialize:    5,
	stepEncode:        15,
	stepChunk:         25,
	stepTranscribe:    60,
	stepEnhance:       70,
	stepFinalEncode:   80,
	stepUpdateEpisode: 90,
	stepCleanup:       95,
	stepFinalize:      100,
}

// Transcoder is the transcoder client surface the driver depends on.
// Satisfied by [*transcoder.Client].
type Transcoder interface {
	Encode(ctx context.Context, req transcoder.EncodeRequest) (*transcoder.EncodeResult, error)
	Chunk(ctx context.Context, req transcoder.ChunkRequest) (*transcoder.ChunkResult, error)
}

// EpisodeRef identifies the input of one pipeline run. Immutable for the
// run's duration.
type EpisodeRef struct {
	EpisodeID     string `json:"episodeId"`
	InputAudioKey string `json:"inputAudioKey"`
}

// WorkflowState is the persisted, replay-safe output of the initialize step.
// Once written it is read-only; later steps only append their own outputs.
type WorkflowState struct {
	WorkflowID string                `json:"workflowId"`
	Episode    EpisodeRef            `json:"episodeRef"`
	Config     config.PipelineConfig `json:"config"`
	StartedAt  time.Time             `json:"startedAt"`
	TaskID     string                `json:"taskId,omitempty"`
}

// ---- step output records ------------------------------------------------------

type encodedAudio struct {
	Key         string  `json:"key"`
	DurationSec float64 `json:"durationSec"`
}

type chunkPlanOutput struct {
	Slots       []ChunkSlot `json:"slots"`
	DurationSec float64     `json:"durationSec"`
}

type transcribeOutput struct {
	Chunks        []TranscribedChunk `json:"chunks"`
	DumpKey       string             `json:"dumpKey"`
	TotalChunks   int                `json:"totalChunks"`
	PlannedChunks int                `json:"plannedChunks"`
}

type enhanceOutput struct {
	Skipped     bool            `json:"skipped,omitempty"`
	EnhancedKey string          `json:"enhancedKey,omitempty"`
	Result      *enhance.Result `json:"result,omitempty"`
}

// Rendition is one produced output encoding.
type Rendition struct {
	Codec       string  `json:"codec"`
	BitrateKbps int     `json:"bitrateKbps"`
	Key         string  `json:"key"`
	SizeBytes   int64   `json:"sizeBytes"`
	DurationSec float64 `json:"durationSec"`
}

type renditionOutput struct {
	Renditions []Rendition `json:"renditions"`
}

type episodeUpdateOutput struct {
	Renditions int `json:"renditions"`
}

type cleanupOutput struct {
	Deleted int `json:"deleted"`
}

type finalizeOutput struct {
	TranscriptKey string `json:"transcriptKey"`
}

// ---- consolidated task result -------------------------------------------------

type runResult struct {
	Success     bool              `json:"success"`
	EpisodeID   string            `json:"episodeId"`
	WorkflowID  string            `json:"workflowId"`
	CompletedAt time.Time         `json:"completedAt"`
	Encoding    encodingSummary   `json:"encoding"`
	Processing  processingSummary `json:"processing"`
	Enhanced    *enhancedSummary  `json:"enhanced,omitempty"`
}

type encodingSummary struct {
	Formats int `json:"formats"`
}

type processingSummary struct {
	TotalWords  int `json:"totalWords"`
	TotalChunks int `json:"totalChunks"`
	TextLength  int `json:"textLength"`
}

type enhancedSummary struct {
	Key      string `json:"key"`
	Keywords int    `json:"keywords"`
	Chapters int    `json:"chapters"`
	Summary  bool   `json:"summary"`
}

// Deps carries the collaborators of a Driver. Store, Transcoder, STT, Steps,
// Tasks, and Episodes are required; Enhancer, Metrics, and Logger are
// optional.
type Deps struct {
	Store      objstore.Store
	Transcoder Transcoder
	STT        stt.Engine
	Enhancer   *enhance.Enhancer
	Tasks      task.Store
	Episodes   episode.Store
	Steps      step.Log
	Pipeline   config.PipelineConfig
	Retry      retry.Config
	PresignTTL time.Duration
	Metrics    *observe.Metrics
	Logger     *slog.Logger

	// StepSleep overrides the delay between step retry attempts. Tests
	// inject a no-op here; production leaves it nil.
	StepSleep func(ctx context.Context, d time.Duration) error
}

// Driver executes the ordered pipeline steps for episodes. One Driver serves
// many runs; per-run state lives in the step log under the workflow id.
type Driver struct {
	store      objstore.Store
	transcoder Transcoder
	stt        stt.Engine
	enhancer   *enhance.Enhancer
	tasks      task.Store
	episodes   episode.Store
	steps      step.Log
	cleaner    *Cleaner
	cfg        config.PipelineConfig
	retryCfg   retry.Config
	presignTTL time.Duration
	metrics    *observe.Metrics
	logger     *slog.Logger
	stepSleep  func(ctx context.Context, d time.Duration) error
}

// NewDriver creates a Driver from deps.
func NewDriver(deps Deps) *Driver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	presignTTL := deps.PresignTTL
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	return &Driver{
		store:      deps.Store,
		transcoder: deps.Transcoder,
		stt:        deps.STT,
		enhancer:   deps.Enhancer,
		tasks:      deps.Tasks,
		episodes:   deps.Episodes,
		steps:      deps.Steps,
		cleaner:    NewCleaner(deps.Store, logger),
		cfg:        deps.Pipeline,
		retryCfg:   deps.Retry,
		presignTTL: presignTTL,
		metrics:    deps.Metrics,
		logger:     logger,
		stepSleep:  deps.StepSleep,
	}
}

// Run executes the pipeline for ref under workflowID, resuming from the step
// log where previous attempts left off. On success the task is completed
// with a consolidated result; on failure it is failed with a structured
// error and the step error is returned.
func (d *Driver) Run(ctx context.Context, workflowID string, ref EpisodeRef, taskID string) error {
	opts := []step.Option{step.WithLogger(d.logger)}
	if d.stepSleep != nil {
		opts = append(opts, step.WithSleep(d.stepSleep))
	}
	runner := step.NewRunner(workflowID, d.steps, opts...)
	reporter := NewReporter(d.tasks, taskID, d.logger)

	if d.metrics != nil {
		d.metrics.ActiveRuns.Add(ctx, 1)
		defer d.metrics.ActiveRuns.Add(context.WithoutCancel(ctx), -1)
	}

	if taskID != "" {
		upd := task.StatusUpdate{Step: stepInitialize}
		if err := d.tasks.UpdateStatus(ctx, taskID, task.StatusProcessing, upd); err != nil {
			return fmt.Errorf("pipeline: mark task processing: %w", err)
		}
	}

	result, err := d.run(ctx, runner, reporter, ref, taskID)
	if err != nil {
		d.failTask(ctx, taskID, err)
		return err
	}

	if taskID != "" {
		data, merr := json.Marshal(result)
		if merr != nil {
			return fmt.Errorf("pipeline: marshal run result: %w", merr)
		}
		upd := task.StatusUpdate{Result: data, Step: stepFinalize, Message: "completed"}
		if err := d.tasks.UpdateStatus(ctx, taskID, task.StatusDone, upd); err != nil {
			return fmt.Errorf("pipeline: mark task done: %w", err)
		}
	}

	d.logger.Info("pipeline run completed",
		"workflow", workflowID,
		"episode", ref.EpisodeID,
		"total_words", result.Processing.TotalWords,
		"total_chunks", result.Processing.TotalChunks,
	)
	return nil
}

// run drives the nine steps. Any returned error is a *step.Error (or a
// pre-step wiring failure) for failTask to unpack.
func (d *Driver) run(ctx context.Context, runner *step.Runner, reporter *Reporter, ref EpisodeRef, taskID string) (*runResult, error) {
	// Step 1: validate the reference, freeze the effective config, and prove
	// that presigning works before any heavy lifting.
	state, err := timed(ctx, d, stepInitialize, func() (WorkflowState, error) {
		return step.Do(ctx, runner, stepInitialize, stepPolicies[stepInitialize], func(ctx context.Context) (WorkflowState, error) {
			return d.initialize(ctx, runner.WorkflowID(), ref, taskID)
		})
	})
	if err != nil {
		return nil, err
	}
	reporter.ReportStep(ctx, stepInitialize, stepProgress[stepInitialize], "workflow initialized", nil)

	cfg := state.Config
	episodeID := state.Episode.EpisodeID

	// Step 2: low-bitrate mono copy for chunking and STT.
	enc, err := timed(ctx, d, stepEncode, func() (encodedAudio, error) {
		return step.Do(ctx, runner, stepEncode, stepPolicies[stepEncode], func(ctx context.Context) (encodedAudio, error) {
			return d.encodeForProcessing(ctx, state)
		})
	})
	if err != nil {
		return nil, err
	}
	reporter.ReportStep(ctx, stepEncode, stepProgress[stepEncode], "audio encoded for processing", nil)

	// Step 3: plan chunk slots and have the transcoder fill them.
	plan, err := timed(ctx, d, stepChunk, func() (chunkPlanOutput, error) {
		return step.Do(ctx, runner, stepChunk, stepPolicies[stepChunk], func(ctx context.Context) (chunkPlanOutput, error) {
			return d.prepareAndChunk(ctx, state, enc)
		})
	})
	if err != nil {
		return nil, err
	}
	reporter.ReportStep(ctx, stepChunk, stepProgress[stepChunk],
		fmt.Sprintf("audio split into %d chunks", len(plan.Slots)), nil)

	// Step 4: fan out transcriptions, tolerate partial failure.
	tr, err := timed(ctx, d, stepTranscribe, func() (transcribeOutput, error) {
		return step.Do(ctx, runner, stepTranscribe, stepPolicies[stepTranscribe], func(ctx context.Context) (transcribeOutput, error) {
			return d.transcribe(ctx, state, plan, reporter)
		})
	})
	if err != nil {
		return nil, err
	}
	reporter.ReportStep(ctx, stepTranscribe, stepProgress[stepTranscribe],
		fmt.Sprintf("transcribed %d/%d chunks", tr.TotalChunks, tr.PlannedChunks), nil)

	merged := MergeChunks(tr.Chunks, cfg.OverlapDurationSec)

	// Step 5: optional enhancement. Never fails the run by construction.
	enh, err := timed(ctx, d, stepEnhance, func() (enhanceOutput, error) {
		return step.Do(ctx, runner, stepEnhance, stepPolicies[stepEnhance], func(ctx context.Context) (enhanceOutput, error) {
			return d.enhance(ctx, state, merged)
		})
	})
	if err != nil {
		return nil, err
	}
	if enh.Skipped {
		reporter.ReportStep(ctx, stepEnhance, stepProgress[stepEnhance], "enhancement skipped", nil)
	} else {
		reporter.ReportStep(ctx, stepEnhance, stepProgress[stepEnhance], "transcript enhanced", nil)
	}

	// Step 6: all output renditions, concurrently, all-or-nothing.
	rend, err := timed(ctx, d, stepFinalEncode, func() (renditionOutput, error) {
		return step.Do(ctx, runner, stepFinalEncode, stepPolicies[stepFinalEncode], func(ctx context.Context) (renditionOutput, error) {
			return d.finalEncode(ctx, state)
		})
	})
	if err != nil {
		return nil, err
	}
	reporter.ReportStep(ctx, stepFinalEncode, stepProgress[stepFinalEncode],
		fmt.Sprintf("encoded %d renditions", len(rend.Renditions)), nil)

	// Step 7: publish renditions and keywords on the episode record.
	_, err = timed(ctx, d, stepUpdateEpisode, func() (episodeUpdateOutput, error) {
		return step.Do(ctx, runner, stepUpdateEpisode, stepPolicies[stepUpdateEpisode], func(ctx context.Context) (episodeUpdateOutput, error) {
			return d.updateEpisode(ctx, state, rend, enh, merged)
		})
	})
	if err != nil {
		return nil, err
	}
	reporter.ReportStep(ctx, stepUpdateEpisode, stepProgress[stepUpdateEpisode], "episode updated", nil)

	// Step 8: drop the intermediates.
	_, err = timed(ctx, d, stepCleanup, func() (cleanupOutput, error) {
		return step.Do(ctx, runner, stepCleanup, stepPolicies[stepCleanup], func(ctx context.Context) (cleanupOutput, error) {
			intermediates := []string{enc.Key}
			for _, slot := range plan.Slots {
				intermediates = append(intermediates, slot.Key)
			}
			return cleanupOutput{Deleted: d.cleaner.Cleanup(ctx, intermediates)}, nil
		})
	})
	if err != nil {
		return nil, err
	}
	reporter.ReportStep(ctx, stepCleanup, stepProgress[stepCleanup], "intermediates cleaned up", nil)

	// Step 9: persist the transcript and point the episode at it.
	fin, err := timed(ctx, d, stepFinalize, func() (finalizeOutput, error) {
		return step.Do(ctx, runner, stepFinalize, stepPolicies[stepFinalize], func(ctx context.Context) (finalizeOutput, error) {
			return d.finalize(ctx, state, merged, enh)
		})
	})
	if err != nil {
		return nil, err
	}
	reporter.ReportStep(ctx, stepFinalize, stepProgress[stepFinalize], "transcript stored", nil)

	result := &runResult{
		Success:     true,
		EpisodeID:   episodeID,
		WorkflowID:  state.WorkflowID,
		CompletedAt: time.Now().UTC(),
		Encoding:    encodingSummary{Formats: len(rend.Renditions)},
		Processing: processingSummary{
			TotalWords:  merged.TotalWords,
			TotalChunks: tr.TotalChunks,
			TextLength:  len(merged.Text),
		},
	}
	if !enh.Skipped && enh.Result != nil {
		result.Enhanced = &enhancedSummary{
			Key:      enh.EnhancedKey,
			Keywords: len(enh.Result.Keywords),
			Chapters: len(enh.Result.Chapters),
			Summary:  enh.Result.Summary != "",
		}
	}
	d.logger.Debug("transcript stored", "workflow", state.WorkflowID, "key", fin.TranscriptKey)
	return result, nil
}

// ---- step bodies --------------------------------------------------------------

func (d *Driver) initialize(ctx context.Context, workflowID string, ref EpisodeRef, taskID string) (WorkflowState, error) {
	if ref.EpisodeID == "" {
		return WorkflowState{}, &ConfigError{Detail: "episode id is empty"}
	}
	if ref.InputAudioKey == "" {
		return WorkflowState{}, &ConfigError{Detail: "input audio key is empty"}
	}

	cfg := d.cfg
	if cfg.UseStructuredSTTFeatures {
		cfg.ChunkDurationSec = structuredChunkDurationSec
		cfg.OverlapDurationSec = structuredOverlapDurationSec
	}

	state := WorkflowState{
		WorkflowID: workflowID,
		Episode: EpisodeRef{
			EpisodeID:     ref.EpisodeID,
			InputAudioKey: keys.StripScheme(ref.InputAudioKey),
		},
		Config:    cfg,
		StartedAt: time.Now().UTC(),
		TaskID:    taskID,
	}

	// Preview URL. Transient by design, so it is not part of the persisted
	// state; generating it here proves the store can sign before step 2
	// commits to heavy work.
	if _, err := d.store.Presign(ctx, objstore.PresignGet, state.Episode.InputAudioKey, "", d.presignTTL); err != nil {
		return WorkflowState{}, wrapConfigError(err)
	}
	return state, nil
}

func (d *Driver) encodeForProcessing(ctx context.Context, state WorkflowState) (encodedAudio, error) {
	key := keys.ProcessingAudio(state.Episode.EpisodeID)

	srcURL, err := d.store.Presign(ctx, objstore.PresignGet, state.Episode.InputAudioKey, "", d.presignTTL)
	if err != nil {
		return encodedAudio{}, wrapConfigError(err)
	}
	putURL, err := d.store.Presign(ctx, objstore.PresignPut, key, "audio/ogg", d.presignTTL)
	if err != nil {
		return encodedAudio{}, wrapConfigError(err)
	}

	res, err := callProvider(ctx, d, "transcoder", stepEncode, classifyTranscoder, func(ctx context.Context) (*transcoder.EncodeResult, error) {
		return d.transcoder.Encode(ctx, transcoder.EncodeRequest{
			AudioSourceURL: srcURL,
			UploadURL:      putURL,
			Codec:          processingCodec,
			BitrateKbps:    processingBitrate,
			Channels:       processingChannels,
			SampleRateHz:   processingSampleRate,
		})
	})
	if err != nil {
		return encodedAudio{}, err
	}
	return encodedAudio{Key: key, DurationSec: res.DurationSec}, nil
}

func (d *Driver) prepareAndChunk(ctx context.Context, state WorkflowState, enc encodedAudio) (chunkPlanOutput, error) {
	cfg := state.Config
	n := NumChunks(enc.DurationSec, cfg.ChunkDurationSec)
	if n == 0 {
		return chunkPlanOutput{}, &ConfigError{Detail: fmt.Sprintf("cannot chunk %gs of audio", enc.DurationSec)}
	}

	srcURL, err := d.store.Presign(ctx, objstore.PresignGet, enc.Key, "", d.presignTTL)
	if err != nil {
		return chunkPlanOutput{}, wrapConfigError(err)
	}

	ext := cfg.ChunkCodec
	slots := make([]ChunkSlot, n)
	uploads := make([]transcoder.ChunkUpload, n)
	for i := range n {
		key := keys.Chunk(state.Episode.EpisodeID, ext)
		putURL, err := d.store.Presign(ctx, objstore.PresignPut, key, chunkContentType(ext), d.presignTTL)
		if err != nil {
			return chunkPlanOutput{}, wrapConfigError(err)
		}
		slots[i] = ChunkSlot{Index: i, Key: key}
		uploads[i] = transcoder.ChunkUpload{Index: i, Key: key, UploadURL: putURL}
	}

	_, err = callProvider(ctx, d, "transcoder", stepChunk, classifyTranscoder, func(ctx context.Context) (*transcoder.ChunkResult, error) {
		return d.transcoder.Chunk(ctx, transcoder.ChunkRequest{
			AudioSourceURL:     srcURL,
			ChunkUploads:       uploads,
			ChunkDurationSec:   cfg.ChunkDurationSec,
			OverlapDurationSec: cfg.OverlapDurationSec,
			TotalDurationSec:   enc.DurationSec,
			Codec:              chunkOutputCodec(ext),
		})
	})
	if err != nil {
		return chunkPlanOutput{}, err
	}
	return chunkPlanOutput{Slots: slots, DurationSec: enc.DurationSec}, nil
}

func (d *Driver) transcribe(ctx context.Context, state WorkflowState, plan chunkPlanOutput, reporter *Reporter) (transcribeOutput, error) {
	cfg := state.Config

	results := make([]*TranscribedChunk, len(plan.Slots))
	var mu sync.Mutex
	var lastFailure error
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(transcribeConcurrency)
	for _, slot := range plan.Slots {
		g.Go(func() error {
			tc, err := d.transcribeChunk(gctx, cfg, plan, slot)
			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				// Per-chunk failures are recorded, not propagated: the step
				// succeeds as long as one chunk makes it through.
				d.logger.Warn("chunk transcription failed",
					"workflow", state.WorkflowID, "chunk", slot.Index, "error", err)
				d.recordChunk(gctx, "failed")
				lastFailure = err
				return nil
			}
			results[slot.Index] = tc
			d.recordChunk(gctx, "ok")
			percent := 25 + 35*done/len(plan.Slots)
			reporter.ReportStep(gctx, stepTranscribe, percent,
				fmt.Sprintf("transcribed chunk %d/%d", done, len(plan.Slots)), nil)
			return nil
		})
	}
	g.Wait()

	chunks := make([]TranscribedChunk, 0, len(results))
	for _, r := range results {
		if r != nil {
			chunks = append(chunks, *r)
		}
	}
	if len(chunks) == 0 {
		detail := "no chunk produced a transcription"
		if lastFailure != nil {
			detail = lastFailure.Error()
		}
		return transcribeOutput{}, &AllChunksFailedError{Detail: detail}
	}

	dumpKey := keys.ChunkTranscriptions(state.Episode.EpisodeID, state.WorkflowID)
	dump, err := json.Marshal(chunks)
	if err != nil {
		return transcribeOutput{}, fmt.Errorf("marshal chunk transcriptions: %w", err)
	}
	if err := d.store.Put(ctx, dumpKey, dump, "application/json"); err != nil {
		return transcribeOutput{}, fmt.Errorf("store chunk transcriptions: %w", err)
	}

	return transcribeOutput{
		Chunks:        chunks,
		DumpKey:       dumpKey,
		TotalChunks:   len(chunks),
		PlannedChunks: len(plan.Slots),
	}, nil
}

// transcribeChunk fetches one chunk's audio and transcribes it, shifting all
// timestamps from chunk-relative to absolute.
func (d *Driver) transcribeChunk(ctx context.Context, cfg config.PipelineConfig, plan chunkPlanOutput, slot ChunkSlot) (*TranscribedChunk, error) {
	obj, err := d.store.Get(ctx, slot.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk %d: %w", slot.Index, err)
	}

	res, err := callProvider(ctx, d, "stt", stepTranscribe, classifySTT, func(ctx context.Context) (*stt.Result, error) {
		return d.stt.Transcribe(ctx, obj.Data, stt.Options{
			Language:    cfg.STTLanguage,
			ContentType: chunkContentType(cfg.ChunkCodec),
		})
	})
	if err != nil {
		return nil, err
	}

	start, end := chunkWindow(slot.Index, cfg.ChunkDurationSec, cfg.OverlapDurationSec, plan.DurationSec)
	tc := &TranscribedChunk{
		Index:        slot.Index,
		StartTimeSec: start,
		EndTimeSec:   end,
		Text:         res.Text,
	}
	for _, w := range res.Words {
		tc.Words = append(tc.Words, stt.Word{Word: w.Word, Start: w.Start + start, End: w.End + start})
	}
	if res.Metadata != nil {
		meta := *res.Metadata
		meta.Paragraphs = make([]stt.Paragraph, len(res.Metadata.Paragraphs))
		for i, p := range res.Metadata.Paragraphs {
			p.Start += start
			p.End += start
			meta.Paragraphs[i] = p
		}
		tc.Metadata = &meta
	}
	return tc, nil
}

func (d *Driver) enhance(ctx context.Context, state WorkflowState, merged Merged) (enhanceOutput, error) {
	if !state.Config.Enhance || d.enhancer == nil {
		return enhanceOutput{Skipped: true}, nil
	}

	result := d.enhancer.Enhance(ctx, enhance.Input{
		Text:     merged.Text,
		Words:    merged.Words,
		Metadata: merged.Metadata,
	})

	key := keys.TranscriptEnhanced(state.Episode.EpisodeID)
	data, err := json.Marshal(result)
	if err != nil {
		return enhanceOutput{}, fmt.Errorf("marshal enhanced transcript: %w", err)
	}
	if err := d.store.Put(ctx, key, data, "application/json"); err != nil {
		return enhanceOutput{}, fmt.Errorf("store enhanced transcript: %w", err)
	}
	return enhanceOutput{EnhancedKey: key, Result: result}, nil
}

func (d *Driver) finalEncode(ctx context.Context, state WorkflowState) (renditionOutput, error) {
	cfg := state.Config

	srcURL, err := d.store.Presign(ctx, objstore.PresignGet, state.Episode.InputAudioKey, "", d.presignTTL)
	if err != nil {
		return renditionOutput{}, wrapConfigError(err)
	}

	renditions := make([]Rendition, len(cfg.EncodingFormats))
	g, gctx := errgroup.WithContext(ctx)
	for i, format := range cfg.EncodingFormats {
		codec, kbps, err := parseEncodingFormat(format)
		if err != nil {
			return renditionOutput{}, err
		}
		key := keys.Rendition(state.Episode.EpisodeID, codec, kbps)
		putURL, err := d.store.Presign(ctx, objstore.PresignPut, key, chunkContentType(codec), d.presignTTL)
		if err != nil {
			return renditionOutput{}, wrapConfigError(err)
		}

		g.Go(func() error {
			res, err := callProvider(gctx, d, "transcoder", stepFinalEncode, classifyTranscoder, func(ctx context.Context) (*transcoder.EncodeResult, error) {
				return d.transcoder.Encode(ctx, transcoder.EncodeRequest{
					AudioSourceURL: srcURL,
					UploadURL:      putURL,
					Codec:          codec,
					BitrateKbps:    kbps,
				})
			})
			if err != nil {
				return fmt.Errorf("rendition %s: %w", format, err)
			}
			renditions[i] = Rendition{
				Codec:       codec,
				BitrateKbps: kbps,
				Key:         key,
				SizeBytes:   res.SizeBytes,
				DurationSec: res.DurationSec,
			}
			return nil
		})
	}
	// All renditions must succeed for the step to succeed.
	if err := g.Wait(); err != nil {
		return renditionOutput{}, err
	}
	return renditionOutput{Renditions: renditions}, nil
}

func (d *Driver) updateEpisode(ctx context.Context, state WorkflowState, rend renditionOutput, enh enhanceOutput, merged Merged) (episodeUpdateOutput, error) {
	urls := make(map[string]string, len(rend.Renditions))
	for _, r := range rend.Renditions {
		urls[keys.RenditionLabel(r.Codec, r.BitrateKbps)] = r.Key
	}

	upd := episode.Update{EncodedAudioURLs: urls}
	switch {
	case !enh.Skipped && enh.Result != nil && len(enh.Result.Keywords) > 0:
		upd.Keywords = enh.Result.Keywords
	case merged.Metadata != nil && len(merged.Metadata.Keywords) > 0:
		upd.Keywords = merged.Metadata.Keywords
	}

	if err := d.episodes.UpdateByID(ctx, state.Episode.EpisodeID, upd); err != nil {
		return episodeUpdateOutput{}, fmt.Errorf("update episode: %w", err)
	}
	return episodeUpdateOutput{Renditions: len(urls)}, nil
}

func (d *Driver) finalize(ctx context.Context, state WorkflowState, merged Merged, enh enhanceOutput) (finalizeOutput, error) {
	text := merged.Text
	if !enh.Skipped && enh.Result != nil && enh.Result.Text != "" {
		text = enh.Result.Text
	}

	key := keys.TranscriptText(state.Episode.EpisodeID)
	if err := d.store.Put(ctx, key, []byte(text), "text/plain; charset=utf-8"); err != nil {
		return finalizeOutput{}, fmt.Errorf("store transcript: %w", err)
	}
	if err := d.episodes.UpdateByID(ctx, state.Episode.EpisodeID, episode.Update{TranscriptURL: &key}); err != nil {
		return finalizeOutput{}, fmt.Errorf("update episode transcript url: %w", err)
	}
	return finalizeOutput{TranscriptKey: key}, nil
}

// ---- helpers ------------------------------------------------------------------

// failTask writes the structured failure result onto the task. Best-effort:
// the step error is what the caller propagates either way.
func (d *Driver) failTask(ctx context.Context, taskID string, err error) {
	if taskID == "" {
		return
	}

	stepName := "unknown"
	cause := err
	var stepErr *step.Error
	if errors.As(err, &stepErr) {
		stepName = stepErr.Step
		cause = stepErr.Cause
	}

	result, merr := json.Marshal(failureResult{
		Status:        "failed",
		Error:         fmt.Sprintf("Failed at step %s: %v", stepName, cause),
		Step:          stepName,
		Timestamp:     time.Now().UTC(),
		OriginalError: cause.Error(),
	})
	if merr != nil {
		d.logger.Error("marshal failure result", "error", merr)
		return
	}

	upd := task.StatusUpdate{Message: cause.Error(), Step: stepName, Result: result}
	if uerr := d.tasks.UpdateStatus(context.WithoutCancel(ctx), taskID, task.StatusFailed, upd); uerr != nil {
		d.logger.Error("mark task failed", "task", taskID, "error", uerr)
	}
}

// timed wraps one step execution with the duration metric.
func timed[T any](ctx context.Context, d *Driver, name string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	if d.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		d.metrics.RecordStep(ctx, name, status, time.Since(start).Seconds())
	}
	return out, err
}

// callProvider runs op under the retry budget, counting every request,
// every retry, and an exhausted budget against the provider's metrics.
func callProvider[T any](ctx context.Context, d *Driver, provider, operation string, classify retry.Classifier, op func(context.Context) (T, error)) (T, error) {
	attempt := 0
	out, err := retry.RunWithinBudget(ctx, d.retryCfg, classify, func(ctx context.Context) (T, error) {
		attempt++
		if attempt > 1 {
			d.recordRetry(ctx, operation)
		}
		res, err := op(ctx)
		status := "ok"
		if err != nil {
			status = "error"
		}
		d.recordProviderRequest(ctx, provider, status)
		return res, err
	})
	if err != nil {
		d.recordProviderError(ctx, provider)
	}
	return out, err
}

func (d *Driver) recordProviderError(ctx context.Context, provider string) {
	if d.metrics != nil {
		d.metrics.RecordProviderError(ctx, provider)
	}
}

func (d *Driver) recordProviderRequest(ctx context.Context, provider, status string) {
	if d.metrics != nil {
		d.metrics.RecordProviderRequest(ctx, provider, status)
	}
}

func (d *Driver) recordRetry(ctx context.Context, operation string) {
	if d.metrics != nil {
		d.metrics.RecordRetry(ctx, operation)
	}
}

func (d *Driver) recordChunk(ctx context.Context, status string) {
	if d.metrics != nil {
		d.metrics.RecordChunk(ctx, status)
	}
}

// parseEncodingFormat splits a "codec_bitrate" entry. Formats are validated
// at config load; a malformed entry slipping through is a ConfigError.
func parseEncodingFormat(format string) (codec string, bitrateKbps int, err error) {
	codec, rate, ok := strings.Cut(format, "_")
	if !ok {
		return "", 0, &ConfigError{Detail: fmt.Sprintf("malformed encoding format %q", format)}
	}
	if codec != "mp3" && codec != "opus" {
		return "", 0, &ConfigError{Detail: fmt.Sprintf("unsupported codec in encoding format %q", format)}
	}
	kbps, aerr := strconv.Atoi(rate)
	if aerr != nil || kbps <= 0 {
		return "", 0, &ConfigError{Detail: fmt.Sprintf("malformed bitrate in encoding format %q", format)}
	}
	return codec, kbps, nil
}

// chunkContentType maps a codec/extension to the upload content type.
func chunkContentType(codec string) string {
	switch codec {
	case "ogg", "opus":
		return "audio/ogg"
	case "mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// chunkOutputCodec maps the configured chunk codec to the transcoder's
// outputFormat vocabulary ("ogg" is the Opus-in-OGG container).
func chunkOutputCodec(codec string) string {
	if codec == "ogg" {
		return "opus"
	}
	return codec
}
