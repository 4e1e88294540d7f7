package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"callpipe/internal/alignment"
	"callpipe/internal/breaker"
	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/queue"
	"callpipe/internal/services"
	"callpipe/internal/stage"
)

const (
	// LaneName identifies the judge lane.
	LaneName = "judge"
	// LLMBreaker guards the quality model.
	LLMBreaker = "llm"
	// SkippedModel is recorded as judge_model when no analyzer ran.
	SkippedModel = "skipped"
	// ReasonTranscriptTooShort marks calls skipped for lack of content.
	ReasonTranscriptTooShort = "transcript_too_short"
)

// RuleSource supplies the rules for a campaign.
type RuleSource interface {
	For(campaign string) []services.Rule
	Version() string
}

type modelNamer interface {
	Model() string
}

// Verdict is the quality_flags payload written for an analyzed call.
type Verdict struct {
	services.QualityResult
	Disposition  queue.Status                      `json:"disposition"`
	RulesVersion string                            `json:"rules_version,omitempty"`
	Speakers     map[string]alignment.SpeakerStats `json:"speakers,omitempty"`
}

type skipped struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

// Handler scores transcripts.
type Handler struct {
	spec      queue.LaneSpec
	analyzer  services.QualityAnalyzer
	rules     RuleSource
	breakers  *breaker.Registry
	threshold int
	minLength int
	version   string
	logger    *slog.Logger
}

// LaneSpec returns the claim rules for the judge lane.
func LaneSpec(cfg *config.Config) queue.LaneSpec {
	return queue.LaneSpec{
		Name:            LaneName,
		Source:          queue.StatusTranscribed,
		Mode:            queue.ClaimBySentinel,
		Order:           queue.ParseOrder(cfg.Lanes.Judge.Order),
		MaxAttempts:     cfg.Workflow.MaxAttempts,
		RequireUnscored: true,
	}
}

// NewHandler constructs the judge lane handler. rules may be nil, in which
// case calls are scored without campaign rules.
func NewHandler(cfg *config.Config, analyzer services.QualityAnalyzer, rules RuleSource, breakers *breaker.Registry, logger *slog.Logger) *Handler {
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.DefaultSettings())
	}
	return &Handler{
		spec:      LaneSpec(cfg),
		analyzer:  analyzer,
		rules:     rules,
		breakers:  breakers,
		threshold: cfg.Quality.FlagThreshold,
		minLength: cfg.Quality.MinTranscriptLength,
		version:   cfg.Quality.Version,
		logger:    logging.NewComponentLogger(logger, LaneName),
	}
}

// Spec returns the lane claim rules.
func (h *Handler) Spec() queue.LaneSpec {
	return h.spec
}

// Process scores one claimed call.
func (h *Handler) Process(ctx context.Context, call *queue.Call) (queue.Completion, error) {
	logger := logging.WithContext(ctx, h.logger)
	transcript := strings.TrimSpace(call.TranscriptText)
	if len(transcript) < h.minLength {
		payload, err := json.Marshal(skipped{Skipped: true, Reason: ReasonTranscriptTooShort})
		if err != nil {
			return queue.Completion{}, fmt.Errorf("encode skip payload: %w", err)
		}
		logger.Info("transcript too short to judge", logging.Int("transcript_chars", len(transcript)))
		return queue.Completion{
			Status:         queue.StatusSafe,
			QualityFlags:   payload,
			QualityVersion: h.version,
			JudgeModel:     SkippedModel,
		}, nil
	}
	if h.analyzer == nil {
		return queue.Completion{}, services.Wrap(services.ErrConfiguration, LaneName, "analyze", "quality analyzer not configured", nil)
	}

	segments := h.segments(ctx, call)
	campaign := strings.TrimSpace(call.CampaignName)
	if campaign == "" {
		campaign = call.CampaignID
	}
	input := services.QualityInput{
		Transcript: transcript,
		Segments:   segments,
		Campaign:   campaign,
	}
	rulesVersion := ""
	if h.rules != nil {
		input.Rules = h.rules.For(campaign)
		rulesVersion = h.rules.Version()
	}

	var result services.QualityResult
	err := h.breakers.Get(LLMBreaker).ExecuteIgnoring(ctx, services.IsPermanent, func(ctx context.Context) error {
		out, err := h.analyzer.Analyze(ctx, input)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		if services.IsPermanent(err) || errors.Is(err, breaker.ErrOpen) {
			return queue.Completion{}, err
		}
		return queue.Completion{}, services.Wrap(services.ErrTransient, LaneName, "analyze", "quality analysis failed", err)
	}

	disposition := h.Disposition(result)
	verdict := Verdict{
		QualityResult: result,
		Disposition:   disposition,
		RulesVersion:  rulesVersion,
	}
	if len(segments) > 0 {
		verdict.Speakers = alignment.SpeakerSummary(segments)
	}
	payload, err := json.Marshal(verdict)
	if err != nil {
		return queue.Completion{}, fmt.Errorf("encode verdict: %w", err)
	}

	logger.Info("call judged",
		logging.String("disposition", string(disposition)),
		logging.Int("score", result.Score),
		logging.Bool("analyzer_flagged", result.Flagged),
		logging.Int("issues", len(result.Issues)),
		logging.String("rules_version", rulesVersion),
	)
	return queue.Completion{
		Status:         disposition,
		QualityFlags:   payload,
		QualityVersion: h.version,
		JudgeModel:     h.model(),
	}, nil
}

// Disposition maps an analyzer verdict to the terminal status.
func (h *Handler) Disposition(result services.QualityResult) queue.Status {
	if result.Flagged || result.Score < h.threshold {
		return queue.StatusFlagged
	}
	return queue.StatusSafe
}

func (h *Handler) segments(ctx context.Context, call *queue.Call) []services.Segment {
	raw := strings.TrimSpace(call.DiarizationSegments)
	if raw == "" {
		return nil
	}
	var segments []services.Segment
	if err := json.Unmarshal([]byte(raw), &segments); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, h.logger), "diarization segments unreadable", "judge_segments_decode",
			logging.Error(err),
			logging.String(logging.FieldImpact, "call scored without speaker context"),
		)
		return nil
	}
	return segments
}

func (h *Handler) model() string {
	if namer, ok := h.analyzer.(modelNamer); ok {
		if name := strings.TrimSpace(namer.Model()); name != "" {
			return name
		}
	}
	return "unknown"
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck reports analyzer availability.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if h.analyzer == nil {
		return stage.Unhealthy(LaneName, "quality analyzer not configured")
	}
	if h.breakers.Get(LLMBreaker).State() == breaker.StateOpen {
		return stage.Unhealthy(LaneName, "llm circuit open")
	}
	if checker, ok := h.analyzer.(healthChecker); ok {
		if err := checker.HealthCheck(ctx); err != nil {
			return stage.Unhealthy(LaneName, fmt.Sprintf("llm health check failed: %v", err))
		}
	}
	return stage.Healthy(LaneName)
}
