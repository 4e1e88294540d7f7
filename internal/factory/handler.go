package factory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"callpipe/internal/alignment"
	"callpipe/internal/breaker"
	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/media"
	"callpipe/internal/media/ffmpeg"
	"callpipe/internal/media/ffprobe"
	"callpipe/internal/queue"
	"callpipe/internal/services"
	"callpipe/internal/stage"
)

const (
	// LaneName identifies the factory lane.
	LaneName = "factory"
	// InferenceBreaker guards the speech service.
	InferenceBreaker = "inference"
	// BlobBreaker guards the blob store.
	BlobBreaker = "blob"
)

// Converter prepares audio for inference.
type Converter interface {
	ToMonoWAV(ctx context.Context, source, dest string) error
	Extract(ctx context.Context, source string, startSec, durationSec float64, dest string) error
}

// Prober reports the playable length of an audio file in seconds.
type Prober func(ctx context.Context, path string) (float64, error)

// Option customizes a Handler.
type Option func(*Handler)

// WithConverter replaces the ffmpeg converter.
func WithConverter(c Converter) Option {
	return func(h *Handler) {
		if c != nil {
			h.converter = c
		}
	}
}

// WithProber replaces the ffprobe duration probe.
func WithProber(p Prober) Option {
	return func(h *Handler) {
		if p != nil {
			h.probe = p
		}
	}
}

// WithChunkWorkers bounds how many chunks are sent to inference at once.
func WithChunkWorkers(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.chunkWorkers = n
		}
	}
}

// Handler turns stored recordings into aligned transcripts.
type Handler struct {
	spec         queue.LaneSpec
	blobs        services.BlobStore
	inference    services.Inference
	breakers     *breaker.Registry
	converter    Converter
	probe        Prober
	tempDir      string
	chunkWorkers int
	logger       *slog.Logger
}

// LaneSpec returns the claim rules for the factory lane.
func LaneSpec(cfg *config.Config) queue.LaneSpec {
	return queue.LaneSpec{
		Name:        LaneName,
		Source:      queue.StatusDownloaded,
		Mode:        queue.ClaimByStatus,
		InProgress:  queue.StatusProcessing,
		Order:       queue.ParseOrder(cfg.Lanes.Factory.Order),
		MaxAttempts: cfg.Workflow.MaxAttempts,
	}
}

// NewHandler constructs the factory lane handler.
func NewHandler(cfg *config.Config, blobs services.BlobStore, inference services.Inference, breakers *breaker.Registry, logger *slog.Logger, opts ...Option) *Handler {
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.DefaultSettings())
	}
	probeBinary := cfg.FFprobeBinary()
	h := &Handler{
		spec:         LaneSpec(cfg),
		blobs:        blobs,
		inference:    inference,
		breakers:     breakers,
		converter:    ffmpeg.New(cfg.FFmpegBinary()),
		tempDir:      cfg.Paths.TempDir,
		chunkWorkers: 1,
		logger:       logging.NewComponentLogger(logger, LaneName),
	}
	h.probe = func(ctx context.Context, path string) (float64, error) {
		result, err := ffprobe.Inspect(ctx, probeBinary, path)
		if err != nil {
			return 0, err
		}
		h.logger.Debug("audio probed",
			logging.String("path", path),
			logging.Float64("duration_seconds", result.DurationSeconds()),
			logging.Int("sample_rate", result.SampleRate()),
			logging.Int64("size_bytes", result.SizeBytes()),
		)
		return result.DurationSeconds(), nil
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Spec returns the lane claim rules.
func (h *Handler) Spec() queue.LaneSpec {
	return h.spec
}

// Process transcribes and diarizes one claimed call.
func (h *Handler) Process(ctx context.Context, call *queue.Call) (queue.Completion, error) {
	logger := logging.WithContext(ctx, h.logger)
	if strings.TrimSpace(call.BlobPath) == "" {
		return queue.Completion{}, services.Wrap(services.ErrValidation, LaneName, "load audio", "no blob path", nil)
	}
	if h.blobs == nil || h.inference == nil {
		return queue.Completion{}, services.Wrap(services.ErrConfiguration, LaneName, "init", "blob store and inference are required", nil)
	}

	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return queue.Completion{}, services.Wrap(services.ErrConfiguration, LaneName, "workspace", "create temp dir", err)
	}
	workDir, err := os.MkdirTemp(h.tempDir, "factory-"+call.ID+"-")
	if err != nil {
		return queue.Completion{}, services.Wrap(services.ErrTransient, LaneName, "workspace", "create work dir", err)
	}
	defer os.RemoveAll(workDir)

	wav, duration, err := h.prepareAudio(ctx, call, workDir)
	if err != nil {
		return queue.Completion{}, err
	}

	var (
		text     string
		segments []services.Segment
	)
	if media.NeedsChunking(duration) {
		text, segments, err = h.processChunked(ctx, wav, duration, workDir)
	} else {
		text, segments, err = h.processWhole(ctx, services.Audio{Path: wav, DurationSeconds: duration})
	}
	if err != nil {
		return queue.Completion{}, err
	}

	aligned := alignment.Align(text, segments)
	if aligned == nil {
		aligned = []services.Segment{}
	}
	payload, err := json.Marshal(aligned)
	if err != nil {
		return queue.Completion{}, fmt.Errorf("encode segments: %w", err)
	}

	logger.Info("call transcribed",
		logging.Float64("duration_seconds", duration),
		logging.Int("transcript_chars", len(text)),
		logging.Int("segments", len(aligned)),
		logging.Bool("chunked", media.NeedsChunking(duration)),
	)
	return queue.Completion{
		Status:              queue.StatusTranscribed,
		TranscriptText:      text,
		DiarizationSegments: payload,
	}, nil
}

func (h *Handler) prepareAudio(ctx context.Context, call *queue.Call, workDir string) (string, float64, error) {
	var data []byte
	err := h.breakers.Get(BlobBreaker).ExecuteIgnoring(ctx, services.IsPermanent, func(ctx context.Context) error {
		body, err := h.blobs.Download(ctx, call.BlobPath)
		if err != nil {
			return err
		}
		data = body
		return nil
	})
	if err != nil {
		if services.IsPermanent(err) || errors.Is(err, breaker.ErrOpen) {
			return "", 0, err
		}
		return "", 0, services.Wrap(services.ErrTransient, LaneName, "load audio", "download from blob store", err)
	}
	if len(data) == 0 {
		return "", 0, services.Wrap(services.ErrValidation, LaneName, "load audio", "empty audio in blob store", nil)
	}

	ext := path.Ext(call.BlobPath)
	if ext == "" {
		ext = ".mp3"
	}
	source := filepath.Join(workDir, "source"+ext)
	if err := os.WriteFile(source, data, 0o644); err != nil {
		return "", 0, services.Wrap(services.ErrTransient, LaneName, "load audio", "write source", err)
	}

	wav := filepath.Join(workDir, "audio.wav")
	if err := h.converter.ToMonoWAV(ctx, source, wav); err != nil {
		return "", 0, services.Wrap(services.ErrExternalTool, LaneName, "convert", "ffmpeg could not decode recording", err)
	}
	duration, err := h.probe(ctx, wav)
	if err != nil {
		if errors.Is(err, ffprobe.ErrNoAudio) {
			return "", 0, services.Wrap(services.ErrValidation, LaneName, "probe", "invalid audio: no audio stream", err)
		}
		return "", 0, services.Wrap(services.ErrExternalTool, LaneName, "probe", "ffprobe failed", err)
	}
	if duration <= 0 {
		return "", 0, services.Wrap(services.ErrValidation, LaneName, "probe", "empty audio: zero duration", nil)
	}
	return wav, duration, nil
}

func (h *Handler) processWhole(ctx context.Context, audio services.Audio) (string, []services.Segment, error) {
	text, err := h.transcribe(ctx, audio)
	if err != nil {
		return "", nil, services.Wrap(services.ErrTransient, LaneName, "transcribe", "transcription failed", err)
	}
	segments, err := h.diarize(ctx, audio)
	if err != nil {
		return "", nil, services.Wrap(services.ErrTransient, LaneName, "diarize", "diarization failed", err)
	}
	return strings.TrimSpace(text), segments, nil
}

func (h *Handler) processChunked(ctx context.Context, wav string, duration float64, workDir string) (string, []services.Segment, error) {
	logger := logging.WithContext(ctx, h.logger)
	transcriptChunks := media.PlanChunks(duration, media.TranscriptionChunks)
	diarizationChunks := media.PlanChunks(duration, media.DiarizationChunks)
	logger.Info("chunking long recording",
		logging.Float64("duration_seconds", duration),
		logging.Int("transcription_chunks", len(transcriptChunks)),
		logging.Int("diarization_chunks", len(diarizationChunks)),
	)

	transcripts := media.ProcessChunks(ctx, transcriptChunks, h.chunkWorkers, func(ctx context.Context, chunk media.Chunk) (string, error) {
		audio, err := h.extract(ctx, wav, "t", chunk, workDir)
		if err != nil {
			return "", err
		}
		return h.transcribe(ctx, audio)
	})
	if err := h.chunkFailure(ctx, "transcribe", media.Errors(transcripts), len(transcripts)); err != nil {
		return "", nil, err
	}

	diarized := media.ProcessChunks(ctx, diarizationChunks, h.chunkWorkers, func(ctx context.Context, chunk media.Chunk) ([]services.Segment, error) {
		audio, err := h.extract(ctx, wav, "d", chunk, workDir)
		if err != nil {
			return nil, err
		}
		return h.diarize(ctx, audio)
	})
	if err := h.chunkFailure(ctx, "diarize", media.Errors(diarized), len(diarized)); err != nil {
		return "", nil, err
	}

	text := media.MergeTranscripts(media.Values(transcripts))
	segments := media.MergeSegments(diarizationChunks, media.Values(diarized))
	return text, segments, nil
}

func (h *Handler) extract(ctx context.Context, wav, prefix string, chunk media.Chunk, workDir string) (services.Audio, error) {
	dest := filepath.Join(workDir, fmt.Sprintf("%s%03d.wav", prefix, chunk.Index))
	if err := h.converter.Extract(ctx, wav, chunk.Start, chunk.Duration(), dest); err != nil {
		return services.Audio{}, services.Wrap(services.ErrExternalTool, LaneName, "extract chunk", "", err)
	}
	return services.Audio{Path: dest, DurationSeconds: chunk.Duration()}, nil
}

// chunkFailure decides whether chunk errors fail the call. An open circuit or
// a configuration error always does, so the call is released; otherwise the
// call fails only when no chunk succeeded.
func (h *Handler) chunkFailure(ctx context.Context, op string, errs []error, total int) error {
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		if errors.Is(err, breaker.ErrOpen) || services.IsConfiguration(err) {
			return err
		}
	}
	if len(errs) == total {
		return services.Wrap(services.ErrTransient, LaneName, op, fmt.Sprintf("all %d chunks failed", total), errors.Join(errs...))
	}
	logging.WarnWithContext(logging.WithContext(ctx, h.logger), "chunk inference partially failed", "factory_chunk_failure",
		logging.String("operation", op),
		logging.Int("failed_chunks", len(errs)),
		logging.Int("total_chunks", total),
		logging.Error(errors.Join(errs...)),
		logging.String(logging.FieldErrorHint, "check inference service logs for the failing chunk"),
		logging.String(logging.FieldImpact, "merged output has gaps for failed chunks"),
	)
	return nil
}

func (h *Handler) transcribe(ctx context.Context, audio services.Audio) (string, error) {
	var text string
	err := h.breakers.Get(InferenceBreaker).ExecuteIgnoring(ctx, services.IsPermanent, func(ctx context.Context) error {
		out, err := h.inference.Transcribe(ctx, audio)
		text = out
		return err
	})
	return text, err
}

func (h *Handler) diarize(ctx context.Context, audio services.Audio) ([]services.Segment, error) {
	var segments []services.Segment
	err := h.breakers.Get(InferenceBreaker).ExecuteIgnoring(ctx, services.IsPermanent, func(ctx context.Context) error {
		out, err := h.inference.Diarize(ctx, audio)
		segments = out
		return err
	})
	return segments, err
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck reports inference availability.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if h.inference == nil {
		return stage.Unhealthy(LaneName, "inference not configured")
	}
	if h.breakers.Get(InferenceBreaker).State() == breaker.StateOpen {
		return stage.Unhealthy(LaneName, "inference circuit open")
	}
	if checker, ok := h.inference.(healthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return stage.Unhealthy(LaneName, fmt.Sprintf("inference health check failed: %v", err))
		}
	}
	return stage.Healthy(LaneName)
}
