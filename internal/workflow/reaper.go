package workflow

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"callpipe/internal/logging"
	"callpipe/internal/queue"
)

// DefaultReaperInterval is used when no interval is configured.
const DefaultReaperInterval = time.Minute

// Reaper resets claims whose updated_at is older than the zombie TTL.
type Reaper struct {
	store    *queue.Store
	logger   *slog.Logger
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
	total    atomic.Int64
}

// NewReaper constructs a reaper for store.
func NewReaper(store *queue.Store, logger *slog.Logger, interval, ttl time.Duration) *Reaper {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	return &Reaper{
		store:    store,
		logger:   logging.NewComponentLogger(logger, "zombie-reaper"),
		interval: interval,
		ttl:      ttl,
		now:      time.Now,
	}
}

// RunOnce performs a single sweep and returns the number of calls reset.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.ttl)
	count, err := r.store.ReapZombies(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		r.total.Add(count)
		logging.WarnWithContext(r.logger, "reset stale claims", "zombies_reaped",
			logging.Int64("count", count),
			logging.Duration("ttl", r.ttl),
			logging.String(logging.FieldErrorHint, "workers may have crashed or exceeded the zombie TTL"),
			logging.String(logging.FieldImpact, "calls returned to their source status"),
		)
	}
	return count, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("zombie sweep failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "zombie_sweep_failed"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Total reports how many calls the reaper has reset since start.
func (r *Reaper) Total() int64 {
	return r.total.Load()
}
