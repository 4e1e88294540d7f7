package retry

import (
	"errors"
	"strings"

	"callpipe/internal/breaker"
	"callpipe/internal/queue"
	"callpipe/internal/services"
)

// FailureKind classifies a failed attempt.
type FailureKind int

const (
	// Transient failures consume an attempt and retry until the ceiling.
	Transient FailureKind = iota
	// Permanent failures consume an attempt and dead-letter immediately.
	Permanent
	// DependencyOutage means a circuit was open; no attempt is consumed.
	DependencyOutage
	// Configuration means the daemon is misconfigured. The call is released
	// without consuming an attempt and the lane stops.
	Configuration
)

func (k FailureKind) String() string {
	switch k {
	case Permanent:
		return "permanent"
	case DependencyOutage:
		return "dependency_outage"
	case Configuration:
		return "configuration"
	default:
		return "transient"
	}
}

// KindOf classifies an error returned by a lane handler.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return Transient
	case errors.Is(err, breaker.ErrOpen):
		return DependencyOutage
	case services.IsConfiguration(err):
		return Configuration
	case services.IsPermanent(err):
		return Permanent
	default:
		return Transient
	}
}

// DefaultMaxAttempts is the attempt ceiling when none is configured.
const DefaultMaxAttempts = 3

// DeadLetter applies the attempt ceiling.
type DeadLetter struct {
	MaxAttempts int
}

// Decision is the outcome of a failed attempt.
type Decision struct {
	Status queue.Status
	// Consume reports whether attempt_count is incremented.
	Consume bool
	// DeadLettered is true when the call reached failed.
	DeadLettered bool
	Kind         FailureKind
}

// Decide returns where a call goes after a failure. attempts is the count
// before this failure; rollback is the lane's pre-claim status.
func (d DeadLetter) Decide(attempts int, kind FailureKind, rollback queue.Status) Decision {
	ceiling := d.MaxAttempts
	if ceiling <= 0 {
		ceiling = DefaultMaxAttempts
	}
	switch kind {
	case DependencyOutage, Configuration:
		return Decision{Status: rollback, Kind: kind}
	case Permanent:
		return Decision{Status: queue.StatusFailed, Consume: true, DeadLettered: true, Kind: kind}
	default:
		if attempts+1 >= ceiling {
			return Decision{Status: queue.StatusFailed, Consume: true, DeadLettered: true, Kind: kind}
		}
		return Decision{Status: rollback, Consume: true, Kind: kind}
	}
}

// Failure converts the decision into the store write for message.
func (d Decision) Failure(message string) queue.Failure {
	return queue.Failure{Status: d.Status, Error: Truncate(message), Consume: d.Consume}
}

// Truncate bounds an error message for last_error. Blank messages become
// "Unknown error".
func Truncate(message string) string {
	return queue.TruncateError(message)
}

// IsZombieReset reports whether last_error was written by the reaper.
func IsZombieReset(lastError string) bool {
	return strings.HasPrefix(strings.TrimSpace(lastError), queue.ZombieResetPrefix)
}
