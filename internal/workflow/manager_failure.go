package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callpipe/internal/logging"
	"callpipe/internal/notifications"
	"callpipe/internal/queue"
	"callpipe/internal/retry"
)

func (m *Manager) handleCallFailure(ctx context.Context, lane *laneState, call *queue.Call, logger *slog.Logger, cause error, started time.Time) bool {
	kind := retry.KindOf(cause)
	decision := m.deadLetter.Decide(call.AttemptCount, kind, lane.spec.Rollback())
	message := retry.Truncate(cause.Error())
	halting := kind == retry.Configuration && lane.haltWith(cause)

	var writeErr error
	if !decision.Consume {
		writeErr = m.store.Release(ctx, call, decision.Status, message)
	} else {
		writeErr = m.store.Fail(ctx, call, decision.Failure(message))
	}
	if writeErr != nil {
		if errors.Is(writeErr, queue.ErrClaimLost) {
			lane.claimLost.Add(1)
			logging.WarnWithContext(logger, "failure discarded; claim lost", "claim_lost",
				logging.Error(cause),
				logging.String(logging.FieldImpact, "another worker or the reaper owns this call now"),
			)
			return false
		}
		m.setLastError(writeErr)
		logging.ErrorWithContext(logger, "failed to record failure", "failure_write_failed",
			logging.Error(writeErr),
			logging.String("cause", message),
			logging.String(logging.FieldErrorHint, "the reaper will reset the claim after the zombie TTL"),
		)
		return false
	}

	m.setLastError(cause)
	m.setLastCall(CallOutcome{
		CallID:   call.ID,
		Lane:     lane.name,
		Status:   decision.Status,
		Error:    message,
		Duration: time.Since(started),
		At:       time.Now(),
	})

	attrs := []logging.Attr{
		logging.Error(cause),
		logging.String("failure_kind", kind.String()),
		logging.String("next_status", string(decision.Status)),
	}
	switch {
	case kind == retry.Configuration:
		lane.released.Add(1)
		if halting {
			logging.ErrorWithContext(logger, "configuration error; lane stopping", "lane_configuration_error",
				append(attrs,
					logging.String(logging.FieldErrorHint, "fix the credentials or endpoint for this lane and restart the daemon"),
					logging.String(logging.FieldImpact, "the lane claims no more calls; this call was released without consuming an attempt"),
				)...)
		}
	case kind == retry.DependencyOutage:
		lane.released.Add(1)
		logging.WarnWithContext(logger, "dependency unavailable; call released", "call_released",
			append(attrs, logging.String(logging.FieldImpact, "call will be retried without consuming an attempt"))...)
	case decision.DeadLettered:
		lane.failed.Add(1)
		lane.deadLettered.Add(1)
		logging.ErrorWithContext(logger, "call dead-lettered", "call_dead_lettered",
			append(attrs,
				logging.Int("attempts", call.AttemptCount+1),
				logging.String(logging.FieldErrorHint, "inspect last_error and use queue retry once fixed"),
				logging.Alert("dead_letter"),
			)...)
		m.notifyDeadLetter(ctx, lane, call, message)
	default:
		lane.failed.Add(1)
		logging.WarnWithContext(logger, "call failed; will retry", "call_retry_scheduled",
			append(attrs, logging.Int("attempts", call.AttemptCount+1))...)
	}
	return !decision.Consume
}

func (m *Manager) notifyDeadLetter(ctx context.Context, lane *laneState, call *queue.Call, message string) {
	if m.notifier == nil {
		return
	}
	payload := notifications.Payload{
		"call":     call.ID,
		"lane":     lane.name,
		"attempts": call.AttemptCount + 1,
		"error":    message,
	}
	if err := m.notifier.Publish(ctx, notifications.EventDeadLetter, payload); err != nil {
		lane.logger.Debug("dead letter notification failed", logging.Error(err))
	}
}
