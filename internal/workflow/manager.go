package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callpipe/internal/breaker"
	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/notifications"
	"callpipe/internal/queue"
	"callpipe/internal/retry"
)

// minPollInterval keeps a lane configured with a zero poll interval from
// spinning on an empty queue.
const minPollInterval = 50 * time.Millisecond

// Manager coordinates lane processing.
type Manager struct {
	cfg        *config.Config
	store      *queue.Store
	logger     *slog.Logger
	notifier   notifications.Service
	breakers   *breaker.Registry
	deadLetter retry.DeadLetter
	retryDelay time.Duration

	reaper *Reaper
	lanes  []*laneState

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastCall *CallOutcome
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithBreakers exposes the daemon's breaker registry through Status.
func WithBreakers(registry *breaker.Registry) ManagerOption {
	return func(m *Manager) {
		m.breakers = registry
	}
}

// WithReaper replaces the reaper started alongside the lanes. A nil reaper
// disables zombie recovery.
func WithReaper(reaper *Reaper) ManagerOption {
	return func(m *Manager) {
		m.reaper = reaper
	}
}

// NewManager constructs a workflow manager that notifies through ntfy when
// configured.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	return NewManagerWithNotifier(cfg, store, logger, notifications.NewService(cfg), opts...)
}

// NewManagerWithNotifier constructs a workflow manager with a custom notifier.
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:        cfg,
		store:      store,
		logger:     logging.NewComponentLogger(logger, "workflow-manager"),
		notifier:   notifier,
		deadLetter: retry.DeadLetter{MaxAttempts: cfg.Workflow.MaxAttempts},
		retryDelay: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		reaper: NewReaper(
			store,
			logger,
			time.Duration(cfg.Workflow.ReaperInterval)*time.Second,
			cfg.ZombieTTL(),
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
