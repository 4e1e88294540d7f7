// Package api defines wire-format types and converters for the status API
// and the CLI's JSON output. It translates queue and workflow models into
// transport-friendly DTOs so consumers never couple to internal types.
//
// # Key Types
//
// CallItem: transport representation of a call with its stage payload
// summarized (blob path, transcript length, quality score and disposition).
//
// WorkflowStatus: manager running state, queue stats, lane health and
// counters, breaker snapshots, and the last call outcome.
//
// DaemonStatus: aggregated runtime information including the lock file and
// database target.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses are exposed as lowercase strings and
// timestamps use RFC3339 with milliseconds. Diarization segments are never
// included in list responses; fetch a single call for the full payload.
package api
