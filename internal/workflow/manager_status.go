package workflow

import (
	"context"

	"callpipe/internal/breaker"
	"callpipe/internal/logging"
	"callpipe/internal/queue"
	"callpipe/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running    bool                    `json:"running"`
	LastError  string                  `json:"last_error,omitempty"`
	LastCall   *CallOutcome            `json:"last_call,omitempty"`
	QueueStats map[queue.Status]int    `json:"queue_stats"`
	LaneHealth map[string]stage.Health `json:"lane_health"`
	Lanes      []LaneStats             `json:"lanes"`
	Breakers   []breaker.Stats         `json:"breakers,omitempty"`
	Reaped     int64                   `json:"reaped"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastCall := m.lastCall
	lanes := append([]*laneState(nil), m.lanes...)
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	summary := StatusSummary{
		Running:    running,
		QueueStats: stats,
		LaneHealth: make(map[string]stage.Health, len(lanes)),
		Lanes:      make([]LaneStats, 0, len(lanes)),
	}
	for _, lane := range lanes {
		if err := lane.haltErr(); err != nil {
			summary.LaneHealth[lane.name] = stage.Unhealthy(lane.name, "stopped: "+err.Error())
		} else {
			summary.LaneHealth[lane.name] = lane.handler.HealthCheck(ctx)
		}
		summary.Lanes = append(summary.Lanes, lane.stats())
	}
	if m.breakers != nil {
		summary.Breakers = m.breakers.Snapshot()
	}
	if m.reaper != nil {
		summary.Reaped = m.reaper.Total()
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastCall != nil {
		copy := *lastCall
		summary.LastCall = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastCall(outcome CallOutcome) {
	m.mu.Lock()
	m.lastCall = &outcome
	m.mu.Unlock()
}
