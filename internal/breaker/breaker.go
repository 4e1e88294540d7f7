package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callpipe/internal/logging"
)

// State is the position of a breaker in its lifecycle.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen matches every rejection issued by an open breaker.
var ErrOpen = errors.New("circuit open")

// OpenError reports a call rejected without reaching the dependency.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is open (retry in %s)", e.Name, e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrOpen) match any OpenError.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Settings tunes a breaker.
type Settings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// DefaultSettings returns the thresholds used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = def.FailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = def.RecoveryTimeout
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = def.SuccessThreshold
	}
	return s
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name        string     `json:"name"`
	State       State      `json:"state"`
	Failures    int        `json:"failures"`
	Successes   int        `json:"successes"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	OpenUntil   *time.Time `json:"open_until,omitempty"`
}

// StateChangeFunc observes transitions. It runs without the breaker lock held.
type StateChangeFunc func(name string, from, to State, cause error)

// Breaker protects one named dependency.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time
	logger   *slog.Logger
	onChange StateChangeFunc

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	lastSuccess time.Time
	openUntil   time.Time
}

func newBreaker(name string, settings Settings, now func() time.Time, logger *slog.Logger, onChange StateChangeFunc) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings.normalized(),
		now:      now,
		logger:   logger,
		onChange: onChange,
		state:    StateClosed,
	}
}

// Name returns the dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, moving an expired open breaker to half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	state, change := b.currentLocked()
	b.mu.Unlock()
	b.notify(change)
	return state
}

// Execute runs fn unless the breaker is open. A context cancellation reported
// by fn is passed through without counting as a dependency failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	state, change := b.currentLocked()
	if state == StateOpen {
		retryAfter := b.openUntil.Sub(b.now())
		b.mu.Unlock()
		b.notify(change)
		return &OpenError{Name: b.name, RetryAfter: max(retryAfter, 0)}
	}
	b.mu.Unlock()
	b.notify(change)

	err := fn(ctx)
	switch {
	case err == nil:
		b.recordSuccess()
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// Caller gave up; says nothing about the dependency.
	default:
		b.recordFailure(err)
	}
	return err
}

// ExecuteIgnoring behaves like Execute, but errors for which ignore reports
// true are returned to the caller while counting as a success. Lanes use it
// for responses such as HTTP 404 that prove the dependency is up.
func (b *Breaker) ExecuteIgnoring(ctx context.Context, ignore func(error) bool, fn func(context.Context) error) error {
	var ignored error
	err := b.Execute(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && ignore != nil && ignore(err) {
			ignored = err
			return nil
		}
		return err
	})
	if ignored != nil {
		return ignored
	}
	return err
}

type transition struct {
	from, to State
	cause    error
}

func (b *Breaker) currentLocked() (State, *transition) {
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		b.state = StateHalfOpen
		b.successes = 0
		return b.state, &transition{from: StateOpen, to: StateHalfOpen}
	}
	return b.state, nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	b.lastSuccess = b.now()
	var change *transition
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			change = &transition{from: StateHalfOpen, to: StateClosed}
		}
	default:
		b.failures = 0
		b.successes++
	}
	b.mu.Unlock()
	b.notify(change)
}

func (b *Breaker) recordFailure(err error) {
	b.mu.Lock()
	b.lastFailure = b.now()
	b.failures++
	var change *transition
	switch b.state {
	case StateHalfOpen:
		b.openLocked()
		change = &transition{from: StateHalfOpen, to: StateOpen, cause: err}
	case StateClosed:
		b.successes = 0
		if b.failures >= b.settings.FailureThreshold {
			b.openLocked()
			change = &transition{from: StateClosed, to: StateOpen, cause: err}
		}
	}
	b.mu.Unlock()
	b.notify(change)
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openUntil = b.now().Add(b.settings.RecoveryTimeout)
	b.successes = 0
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.openUntil = time.Time{}
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(&transition{from: from, to: StateClosed})
	}
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	state, change := b.currentLocked()
	stats := Stats{
		Name:      b.name,
		State:     state,
		Failures:  b.failures,
		Successes: b.successes,
	}
	if !b.lastFailure.IsZero() {
		ts := b.lastFailure
		stats.LastFailure = &ts
	}
	if !b.lastSuccess.IsZero() {
		ts := b.lastSuccess
		stats.LastSuccess = &ts
	}
	if state == StateOpen {
		ts := b.openUntil
		stats.OpenUntil = &ts
	}
	b.mu.Unlock()
	b.notify(change)
	return stats
}

func (b *Breaker) notify(change *transition) {
	if change == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String("breaker", b.name),
		logging.String("from", string(change.from)),
		logging.String("to", string(change.to)),
	}
	if change.to == StateOpen {
		if change.cause != nil {
			attrs = append(attrs, logging.Error(change.cause))
		}
		logging.WarnWithContext(b.logger, "circuit opened", "breaker_open",
			append(attrs,
				logging.String(logging.FieldErrorHint, "check the dependency health; calls are rejected until recovery"),
				logging.String(logging.FieldImpact, "calls needing this dependency are released without consuming attempts"),
			)...)
	} else {
		b.logger.Info("circuit state changed", logging.Args(append(attrs, logging.String(logging.FieldEventType, "breaker_state_change"))...)...)
	}
	if b.onChange != nil {
		b.onChange(b.name, change.from, change.to, change.cause)
	}
}
