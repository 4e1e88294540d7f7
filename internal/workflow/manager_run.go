package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"callpipe/internal/logging"
)

// Start launches a goroutine per configured lane plus the zombie reaper.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.lanes) == 0 {
		m.mu.Unlock()
		return errors.New("workflow lanes not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	lanes := append([]*laneState(nil), m.lanes...)
	reaper := m.reaper
	m.mu.Unlock()

	for _, lane := range lanes {
		m.wg.Add(1)
		go m.runLane(runCtx, lane)
	}
	if reaper != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			reaper.Run(runCtx)
		}()
	}

	m.logger.Info("workflow started",
		logging.Int("lanes", len(lanes)),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	m.notifyStarted(runCtx, lanes)
	return nil
}

// Stop stops claiming new work and waits for in-flight batches to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()
	lane.logger.Info("lane started",
		logging.String("source", string(lane.spec.Source)),
		logging.Int("batch_size", lane.batchSize),
		logging.Int("workers", lane.workers),
		logging.Duration("poll_interval", lane.pollInterval),
	)
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, released, err := m.runBatch(ctx, lane)
		if haltErr := lane.haltErr(); haltErr != nil {
			m.laneHalted(ctx, lane, haltErr)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			lane.logger.Warn("claim failed; retrying",
				logging.Error(err),
				logging.Duration("retry_in", m.retryDelay),
				logging.String(logging.FieldEventType, "lane_claim_failed"),
				logging.String(logging.FieldErrorHint, "check database connectivity"),
				logging.String(logging.FieldImpact, "lane is paused until the store recovers"),
			)
			if !sleepContext(ctx, m.retryDelay) {
				return
			}
			continue
		}
		// Back off when nothing was claimed or every call hit an open circuit.
		if (claimed == 0 || released == claimed) && !sleepContext(ctx, lane.pollInterval) {
			return
		}
	}
}

// runBatch claims one batch and processes it to completion. Calls claimed
// before a claim error are still processed.
func (m *Manager) runBatch(ctx context.Context, lane *laneState) (int, int, error) {
	calls, claimErr := m.store.ClaimNext(ctx, lane.spec, lane.batchSize)
	if len(calls) == 0 {
		return 0, 0, claimErr
	}
	lane.claimed.Add(int64(len(calls)))
	lane.logger.Debug("batch claimed", logging.Int("count", len(calls)))

	workCtx := context.WithoutCancel(ctx)
	var (
		g        errgroup.Group
		released atomic.Int64
	)
	g.SetLimit(lane.workers)
	for _, call := range calls {
		g.Go(func() error {
			if m.processCall(workCtx, lane, call) {
				released.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(calls), int(released.Load()), claimErr
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
