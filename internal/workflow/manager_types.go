package workflow

import (
	"log/slog"
	"sync/atomic"
	"time"

	"callpipe/internal/queue"
	"callpipe/internal/stage"
)

// LaneSet bundles the lane handlers the manager orchestrates. Nil handlers
// are skipped.
type LaneSet struct {
	Vault   stage.Handler
	Factory stage.Handler
	Judge   stage.Handler
}

type laneState struct {
	name         string
	handler      stage.Handler
	spec         queue.LaneSpec
	batchSize    int
	workers      int
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger

	claimed      atomic.Int64
	completed    atomic.Int64
	failed       atomic.Int64
	released     atomic.Int64
	deadLettered atomic.Int64
	claimLost    atomic.Int64

	halt atomic.Pointer[laneHalt]
}

// laneHalt records the configuration error that stopped a lane.
type laneHalt struct {
	err error
}

// haltWith stops the lane after its current batch. Only the first error is
// kept; it reports whether this call set it.
func (l *laneState) haltWith(err error) bool {
	return l.halt.CompareAndSwap(nil, &laneHalt{err: err})
}

func (l *laneState) haltErr() error {
	if h := l.halt.Load(); h != nil {
		return h.err
	}
	return nil
}

// LaneStats reports a lane's configuration and counters since start.
type LaneStats struct {
	Name         string `json:"name"`
	Source       string `json:"source"`
	BatchSize    int    `json:"batch_size"`
	Workers      int    `json:"workers"`
	Claimed      int64  `json:"claimed"`
	Completed    int64  `json:"completed"`
	Failed       int64  `json:"failed"`
	Released     int64  `json:"released"`
	DeadLettered int64  `json:"dead_lettered"`
	ClaimLost    int64  `json:"claim_lost"`
	Halted       string `json:"halted,omitempty"`
}

func (l *laneState) stats() LaneStats {
	stats := LaneStats{
		Name:         l.name,
		Source:       string(l.spec.Source),
		BatchSize:    l.batchSize,
		Workers:      l.workers,
		Claimed:      l.claimed.Load(),
		Completed:    l.completed.Load(),
		Failed:       l.failed.Load(),
		Released:     l.released.Load(),
		DeadLettered: l.deadLettered.Load(),
		ClaimLost:    l.claimLost.Load(),
	}
	if err := l.haltErr(); err != nil {
		stats.Halted = err.Error()
	}
	return stats
}
