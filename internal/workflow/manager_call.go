package workflow

import (
	"context"
	"errors"
	"time"

	"callpipe/internal/logging"
	"callpipe/internal/queue"
)

// CallOutcome records the most recent call the manager finished with.
type CallOutcome struct {
	CallID   string        `json:"call_id"`
	Lane     string        `json:"lane"`
	Status   queue.Status  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// processCall runs one claimed call and records its outcome. It reports
// whether the call was released without consuming an attempt.
func (m *Manager) processCall(ctx context.Context, lane *laneState, call *queue.Call) bool {
	ctx = withCallContext(ctx, lane, call)
	logger := callLogger(ctx, lane, call)
	started := time.Now()

	runCtx := ctx
	if lane.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, lane.timeout)
		defer cancel()
	}

	completion, err := lane.handler.Process(runCtx, call)
	if err != nil {
		return m.handleCallFailure(ctx, lane, call, logger, err, started)
	}

	if err := m.store.Complete(ctx, call, completion); err != nil {
		if errors.Is(err, queue.ErrClaimLost) {
			lane.claimLost.Add(1)
			logging.WarnWithContext(logger, "completion discarded; claim lost", "claim_lost",
				logging.Error(err),
				logging.String(logging.FieldImpact, "another worker or the reaper owns this call now"),
			)
			return false
		}
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to record completion", "completion_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the reaper will reset the claim after the zombie TTL"),
		)
		return false
	}

	lane.completed.Add(1)
	elapsed := time.Since(started)
	m.setLastCall(CallOutcome{CallID: call.ID, Lane: lane.name, Status: completion.Status, Duration: elapsed, At: time.Now()})
	logger.Info("call completed",
		logging.String("status", string(completion.Status)),
		logging.Duration("duration", elapsed),
		logging.String(logging.FieldEventType, "call_completed"),
	)
	return false
}
