package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"callpipe/internal/breaker"
	"callpipe/internal/config"
	"callpipe/internal/ingest"
	"callpipe/internal/logging"
	"callpipe/internal/notifications"
	"callpipe/internal/queue"
	"callpipe/internal/workflow"
)

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	workflow *workflow.Manager
	breakers *breaker.Registry
	stream   *logging.StreamHub
	notifier notifications.Service
	syncer   *ingest.Syncer

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	bg        sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Database     string
	LockFilePath string
	StartedAt    time.Time
	Workflow     workflow.StatusSummary
}

// Option configures optional daemon collaborators.
type Option func(*Daemon)

// WithBreakers lets the API list and reset circuit breakers.
func WithBreakers(registry *breaker.Registry) Option {
	return func(d *Daemon) { d.breakers = registry }
}

// WithLogStream exposes recent log events through the API.
func WithLogStream(hub *logging.StreamHub) Option {
	return func(d *Daemon) { d.stream = hub }
}

// WithNotifier overrides the notifier used for test notifications.
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Daemon) { d.notifier = notifier }
}

// WithSyncer enables live call metadata ingestion.
func WithSyncer(syncer *ingest.Syncer) Option {
	return func(d *Daemon) { d.syncer = syncer }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, wf *workflow.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, logger, and workflow manager")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}
	if cfg.API.Enabled {
		srv, err := newAPIServer(cfg, d, d.logger)
		if err != nil {
			return nil, err
		}
		d.api = srv
	}
	return d, nil
}

// Start acquires the daemon lock and launches the lanes, the ingestion
// syncer, and the status API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another callpipe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	if d.syncer != nil && d.cfg.Ingest.Enabled {
		interval := time.Duration(d.cfg.Ingest.SyncInterval) * time.Second
		lookback := time.Duration(d.cfg.Ingest.LookbackMinutes) * time.Minute
		d.bg.Add(1)
		go func() {
			defer d.bg.Done()
			if err := d.syncer.Run(runCtx, interval, lookback); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("ingestion stopped",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ingest_stopped"),
					logging.String(logging.FieldErrorHint, "check call log credentials"),
				)
			}
		}()
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("callpipe daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("ingest", d.syncer != nil && d.cfg.Ingest.Enabled),
		logging.Bool("api", d.api != nil),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. In-flight
// calls finish before Stop returns.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.bg.Wait()
	d.workflow.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("callpipe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon. The store is owned by the
// caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// APIAddress returns the bound API address, or "" when the API is disabled
// or not started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// RetryFailed moves failed calls (optionally a subset) back into the pipeline.
func (d *Daemon) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

// ResetBreaker force-closes a named breaker.
func (d *Daemon) ResetBreaker(name string) bool {
	if d.breakers == nil {
		return false
	}
	return d.breakers.Reset(name)
}

// TestNotification publishes a test event through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.Publish(ctx, notifications.EventTest, notifications.Payload{"message": "callpipe test notification"})
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	database := d.cfg.Database.Driver
	if database == "" || database == queue.DialectSQLite {
		database = d.cfg.SQLitePath()
	}
	summary := d.workflow.Status(ctx)
	if d.breakers != nil && len(summary.Breakers) == 0 {
		summary.Breakers = d.breakers.Snapshot()
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Database:     database,
		LockFilePath: d.lockPath,
		StartedAt:    d.startedAt,
		Workflow:     summary,
	}
}
