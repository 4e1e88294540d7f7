package ingest

import (
	"strings"

	"callpipe/internal/queue"
	"callpipe/internal/services"
)

const (
	// MinDurationSeconds is the shortest call worth transcribing.
	MinDurationSeconds = 5

	ReasonZeroDuration = "zero_duration"
	ReasonTooShort     = "too_short"
)

// InitialStatus picks the status a newly ingested call starts in. An
// unknown duration is treated as transcribable.
func InitialStatus(duration *int) (queue.Status, string) {
	switch {
	case duration == nil:
		return queue.StatusPending, ""
	case *duration == 0:
		return queue.StatusSkipped, ReasonZeroDuration
	case *duration < MinDurationSeconds:
		return queue.StatusSkipped, ReasonTooShort
	default:
		return queue.StatusPending, ""
	}
}

// ToInput maps a call-log record onto an upsert row. campaignID is the
// internal campaign id, or empty when the record has no campaign.
func ToInput(record services.CallRecord, campaignID string) queue.CallInput {
	status, reason := InitialStatus(record.DurationSeconds)
	return queue.CallInput{
		ExternalID:      strings.TrimSpace(record.ExternalID),
		CampaignID:      campaignID,
		CampaignName:    strings.TrimSpace(record.CampaignName),
		CallerNumber:    strings.TrimSpace(record.CallerNumber),
		AudioURL:        strings.TrimSpace(record.AudioURL),
		DurationSeconds: record.DurationSeconds,
		Revenue:         record.Revenue,
		Status:          status,
		SkipReason:      reason,
		CreatedAt:       record.StartedAt,
	}
}
