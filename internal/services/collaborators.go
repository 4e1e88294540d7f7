package services

import (
	"context"
	"io"
	"time"
)

// DefaultSpeaker labels diarization segments that arrive without a speaker.
const DefaultSpeaker = "SPEAKER_00"

// Audio is a normalized mono 16 kHz WAV payload handed to inference.
type Audio struct {
	Path            string
	DurationSeconds float64
}

// Segment is one speaker turn. Text is filled in by alignment.
type Segment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text,omitempty"`
}

// Duration returns the non-negative segment length.
func (s Segment) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Inference turns audio into text and speaker turns.
type Inference interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
	Diarize(ctx context.Context, audio Audio) ([]Segment, error)
}

// Rule is one compliance check the quality analyzer scores against.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Severity    string `json:"severity" yaml:"severity"`
}

// QualityIssue is a rule violation reported by the analyzer.
type QualityIssue struct {
	RuleID   string `json:"rule_id,omitempty"`
	Severity string `json:"severity,omitempty"`
	Detail   string `json:"detail"`
}

// QualityResult is the analyzer verdict for a transcript.
type QualityResult struct {
	Score             int            `json:"score"`
	Flagged           bool           `json:"flagged"`
	Summary           string         `json:"summary"`
	Issues            []QualityIssue `json:"issues"`
	PIIDetected       bool           `json:"pii_detected"`
	HostilityDetected bool           `json:"hostility_detected"`
	SalesSuccess      bool           `json:"sales_success"`
	CustomerSentiment string         `json:"customer_sentiment"`
	ComplianceRisk    string         `json:"compliance_risk"`
}

// QualityInput carries the transcript and optional speaker context.
type QualityInput struct {
	Transcript string
	Segments   []Segment
	Campaign   string
	Rules      []Rule
}

// QualityAnalyzer scores a transcript.
type QualityAnalyzer interface {
	Analyze(ctx context.Context, input QualityInput) (QualityResult, error)
}

// BlobStore persists audio. Uploading to a path that already exists succeeds
// without rewriting it.
type BlobStore interface {
	Upload(ctx context.Context, path string, r io.Reader) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// CallRecord is a call-log entry as reported by the metadata source.
type CallRecord struct {
	ExternalID         string
	CampaignExternalID string
	CampaignName       string
	CallerNumber       string
	AudioURL           string
	DurationSeconds    *int
	Revenue            float64
	StartedAt          time.Time
}

// MetadataSource lists call records in a [start, end) time window.
type MetadataSource interface {
	Fetch(ctx context.Context, start, end time.Time) ([]CallRecord, error)
}
