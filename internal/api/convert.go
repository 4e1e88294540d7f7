package api

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"callpipe/internal/breaker"
	"callpipe/internal/logging"
	"callpipe/internal/queue"
	"callpipe/internal/workflow"
)

// FromCall converts a call record to its list representation.
func FromCall(call *queue.Call) CallItem {
	if call == nil {
		return CallItem{}
	}
	dto := CallItem{
		ID:              call.ID,
		ExternalID:      call.ExternalID,
		CampaignID:      call.CampaignID,
		CampaignName:    call.CampaignName,
		Status:          string(call.Status),
		AttemptCount:    call.AttemptCount,
		Claimed:         call.ClaimToken != "" || call.Status == queue.StatusProcessing,
		DurationSeconds: call.DurationSeconds,
		BlobPath:        call.BlobPath,
		TranscriptChars: len(call.TranscriptText),
		Quality:         summarizeQuality(call),
		SkipReason:      call.SkipReason,
		LastError:       call.LastError,
		CreatedAt:       formatTime(call.CreatedAt),
		UpdatedAt:       formatTime(call.UpdatedAt),
	}
	return dto
}

// FromCallDetail converts a call including transcript and raw payloads.
func FromCallDetail(call *queue.Call) CallItem {
	dto := FromCall(call)
	if call == nil {
		return dto
	}
	dto.Transcript = call.TranscriptText
	if raw := strings.TrimSpace(call.DiarizationSegments); raw != "" && json.Valid([]byte(raw)) {
		dto.DiarizationSegments = json.RawMessage(raw)
	}
	if raw := strings.TrimSpace(call.QualityFlags); raw != "" && json.Valid([]byte(raw)) {
		dto.QualityFlags = json.RawMessage(raw)
	}
	return dto
}

// FromCalls converts a slice of call records into API DTOs.
func FromCalls(calls []*queue.Call) []CallItem {
	out := make([]CallItem, 0, len(calls))
	for _, call := range calls {
		out = append(out, FromCall(call))
	}
	return out
}

func summarizeQuality(call *queue.Call) *QualitySummary {
	raw := strings.TrimSpace(call.QualityFlags)
	if raw == "" {
		return nil
	}
	var verdict struct {
		Score       int    `json:"score"`
		Disposition string `json:"disposition"`
		Skipped     bool   `json:"skipped"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil
	}
	summary := &QualitySummary{
		Score:       verdict.Score,
		Disposition: verdict.Disposition,
		Skipped:     verdict.Skipped,
		Model:       call.JudgeModel,
		Version:     call.QualityVersion,
	}
	if summary.Disposition == "" && (call.Status == queue.StatusSafe || call.Status == queue.StatusFlagged) {
		summary.Disposition = string(call.Status)
	}
	return summary
}

// MergeQueueStats fills in every known status so consumers can render a
// stable table even when a status has no calls.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FromBreakerStats converts breaker snapshots ordered by name.
func FromBreakerStats(stats []breaker.Stats) []BreakerState {
	out := make([]BreakerState, 0, len(stats))
	for _, s := range stats {
		state := BreakerState{Name: s.Name, State: string(s.State), Failures: s.Failures}
		if s.OpenUntil != nil {
			state.OpenUntil = formatTime(*s.OpenUntil)
		}
		if s.LastFailure != nil {
			state.LastFailure = formatTime(*s.LastFailure)
		}
		out = append(out, state)
	}
	slices.SortFunc(out, func(a, b BreakerState) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// FromStatusSummary converts the workflow manager summary.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:    summary.Running,
		QueueStats: MergeQueueStats(summary.QueueStats),
		LastError:  summary.LastError,
		LaneHealth: make([]LaneHealth, 0, len(summary.LaneHealth)),
		Lanes:      make([]LaneStats, 0, len(summary.Lanes)),
		Breakers:   FromBreakerStats(summary.Breakers),
		Reaped:     summary.Reaped,
	}
	for name, health := range summary.LaneHealth {
		status.LaneHealth = append(status.LaneHealth, LaneHealth{Name: name, Ready: health.Ready, Detail: health.Detail})
	}
	slices.SortFunc(status.LaneHealth, func(a, b LaneHealth) int { return strings.Compare(a.Name, b.Name) })
	for _, lane := range summary.Lanes {
		status.Lanes = append(status.Lanes, LaneStats{
			Name:         lane.Name,
			Source:       lane.Source,
			BatchSize:    lane.BatchSize,
			Workers:      lane.Workers,
			Claimed:      lane.Claimed,
			Completed:    lane.Completed,
			Failed:       lane.Failed,
			Released:     lane.Released,
			DeadLettered: lane.DeadLettered,
			Halted:       lane.Halted,
		})
	}
	if last := summary.LastCall; last != nil {
		status.LastCall = &LastCall{
			CallID:     last.CallID,
			Lane:       last.Lane,
			Status:     string(last.Status),
			Error:      last.Error,
			DurationMs: last.Duration.Milliseconds(),
			At:         formatTime(last.At),
		}
	}
	return status
}

// FromLogEvents converts stream hub events.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:  evt.Sequence,
			Timestamp: formatTime(evt.Timestamp),
			Level:     evt.Level,
			Message:   evt.Message,
			Component: evt.Component,
			Lane:      evt.Lane,
			CallID:    evt.CallID,
			Fields:    evt.Fields,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses an API timestamp. Invalid input yields the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}
