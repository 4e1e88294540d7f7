package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CallItem describes a call in a transport-friendly format.
type CallItem struct {
	ID                  string          `json:"id"`
	ExternalID          string          `json:"externalId"`
	CampaignID          string          `json:"campaignId,omitempty"`
	CampaignName        string          `json:"campaignName,omitempty"`
	Status              string          `json:"status"`
	AttemptCount        int             `json:"attemptCount"`
	Claimed             bool            `json:"claimed"`
	DurationSeconds     *int            `json:"durationSeconds,omitempty"`
	BlobPath            string          `json:"blobPath,omitempty"`
	TranscriptChars     int             `json:"transcriptChars"`
	Quality             *QualitySummary `json:"quality,omitempty"`
	SkipReason          string          `json:"skipReason,omitempty"`
	LastError           string          `json:"lastError,omitempty"`
	CreatedAt           string          `json:"createdAt,omitempty"`
	UpdatedAt           string          `json:"updatedAt,omitempty"`
	Transcript          string          `json:"transcript,omitempty"`
	DiarizationSegments json.RawMessage `json:"diarizationSegments,omitempty"`
	QualityFlags        json.RawMessage `json:"qualityFlags,omitempty"`
}

// QualitySummary is the headline of a judge verdict.
type QualitySummary struct {
	Score       int    `json:"score"`
	Disposition string `json:"disposition,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
	Model       string `json:"model,omitempty"`
	Version     string `json:"version,omitempty"`
}

// LaneHealth mirrors readiness reporting for a lane handler.
type LaneHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// LaneStats reports a lane's counters since the daemon started.
type LaneStats struct {
	Name         string `json:"name"`
	Source       string `json:"source"`
	BatchSize    int    `json:"batchSize"`
	Workers      int    `json:"workers"`
	Claimed      int64  `json:"claimed"`
	Completed    int64  `json:"completed"`
	Failed       int64  `json:"failed"`
	Released     int64  `json:"released"`
	DeadLettered int64  `json:"deadLettered"`
	Halted       string `json:"halted,omitempty"`
}

// BreakerState is a circuit breaker snapshot.
type BreakerState struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Failures    int    `json:"failures"`
	OpenUntil   string `json:"openUntil,omitempty"`
	LastFailure string `json:"lastFailure,omitempty"`
}

// LastCall summarizes the most recent call a lane finished with.
type LastCall struct {
	CallID     string `json:"callId"`
	Lane       string `json:"lane"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
	At         string `json:"at"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	QueueStats map[string]int `json:"queueStats"`
	LastError  string         `json:"lastError,omitempty"`
	LastCall   *LastCall      `json:"lastCall,omitempty"`
	LaneHealth []LaneHealth   `json:"laneHealth"`
	Lanes      []LaneStats    `json:"lanes"`
	Breakers   []BreakerState `json:"breakers"`
	Reaped     int64          `json:"reaped"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	Database     string         `json:"database"`
	LockFilePath string         `json:"lockFilePath"`
	StartedAt    string         `json:"startedAt,omitempty"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// CallListResponse wraps a collection of calls for API responses.
type CallListResponse struct {
	Calls []CallItem `json:"calls"`
}

// CallResponse wraps a single call.
type CallResponse struct {
	Call CallItem `json:"call"`
}

// RetryRequest selects failed calls to retry. Empty IDs retries all.
type RetryRequest struct {
	IDs []string `json:"ids"`
}

// RetryResponse reports how many calls were moved back into the pipeline.
type RetryResponse struct {
	Retried int64 `json:"retried"`
}

// BreakerListResponse wraps breaker snapshots.
type BreakerListResponse struct {
	Breakers []BreakerState `json:"breakers"`
}

// LogEvent is a structured log line.
type LogEvent struct {
	Sequence  uint64            `json:"seq"`
	Timestamp string            `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	Lane      string            `json:"lane,omitempty"`
	CallID    string            `json:"callId,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse is a page of log events plus the cursor for the next
// fetch.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
