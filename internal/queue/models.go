package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a call.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloaded  Status = "downloaded"
	StatusProcessing  Status = "processing"
	StatusTranscribed Status = "transcribed"
	StatusFlagged     Status = "flagged"
	StatusSafe        Status = "safe"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
)

// ZombieResetPrefix tags last_error for calls released by the reaper.
const ZombieResetPrefix = "Zombie reset"

var allStatuses = []Status{
	StatusPending,
	StatusDownloaded,
	StatusProcessing,
	StatusTranscribed,
	StatusFlagged,
	StatusSafe,
	StatusFailed,
	StatusSkipped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusFlagged: {},
	StatusSafe:    {},
	StatusFailed:  {},
	StatusSkipped: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether lanes will never pick the status up again.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// Call is one inbound phone call and its pipeline state.
type Call struct {
	ID                  string
	ExternalID          string
	CampaignID          string
	CampaignName        string
	CallerNumber        string
	Status              Status
	AttemptCount        int
	AudioURL            string
	BlobPath            string
	ClaimToken          string
	ClaimedAt           *time.Time
	TranscriptText      string
	DiarizationSegments string
	QualityFlags        string
	QualityVersion      string
	JudgeModel          string
	SkipReason          string
	DurationSeconds     *int
	Revenue             float64
	LastError           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Claimed reports whether the call currently carries a sentinel claim.
func (c *Call) Claimed() bool {
	return c != nil && c.ClaimToken != ""
}

// Campaign groups calls for reporting and rule selection.
type Campaign struct {
	ID         string
	ExternalID string
	Name       string
	Vertical   string
}

// CallInput is an ingestion upsert row.
type CallInput struct {
	ExternalID      string
	CampaignID      string
	CampaignName    string
	CallerNumber    string
	AudioURL        string
	DurationSeconds *int
	Revenue         float64
	Status          Status
	SkipReason      string
	CreatedAt       time.Time
}

// Completion describes the payload written when a lane succeeds. Empty
// fields leave the stored value untouched.
type Completion struct {
	Status              Status
	BlobPath            string
	TranscriptText      string
	DiarizationSegments json.RawMessage
	QualityFlags        json.RawMessage
	QualityVersion      string
	JudgeModel          string
}

// Failure describes a failed attempt.
type Failure struct {
	Status Status
	Error  string
	// Consume increments attempt_count by one.
	Consume bool
}

// ClaimMode selects how a lane takes exclusive ownership of a call.
type ClaimMode int

const (
	// ClaimByStatus moves the call from its source status to an in-progress status.
	ClaimByStatus ClaimMode = iota
	// ClaimBySentinel sets claim_token while leaving status untouched.
	ClaimBySentinel
)

// Order selects which end of the backlog a lane drains first.
type Order string

const (
	OrderLIFO Order = "lifo"
	OrderFIFO Order = "fifo"
)

// ParseOrder maps configuration text to an Order, defaulting to LIFO.
func ParseOrder(value string) Order {
	if strings.EqualFold(strings.TrimSpace(value), string(OrderFIFO)) {
		return OrderFIFO
	}
	return OrderLIFO
}

// LaneSpec encodes which calls a lane may claim and how.
type LaneSpec struct {
	Name string
	// Source is the status candidates are selected from.
	Source Status
	Mode   ClaimMode
	// InProgress is the status a ClaimByStatus lane moves calls into.
	InProgress      Status
	Order           Order
	MaxAttempts     int
	RequireAudioURL bool
	RequireUnscored bool
}

// Rollback returns the status a transient failure returns the call to.
func (l LaneSpec) Rollback() Status {
	return l.Source
}

// ListFilter narrows List results.
type ListFilter struct {
	Statuses []Status
	Limit    int
	Offset   int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	Driver         string
	Target         string
	Reachable      bool
	SchemaVersion  int
	TableExists    bool
	TotalCalls     int
	IntegrityCheck bool
	Error          string
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total    int
	Waiting  int
	InFlight int
	Terminal int
	Failed   int
}
