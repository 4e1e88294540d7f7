package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"callpipe/internal/breaker"
	"callpipe/internal/logging"
	"callpipe/internal/notifications"
)

const notifyTimeout = 10 * time.Second

func (m *Manager) notifyStarted(ctx context.Context, lanes []*laneState) {
	if m.notifier == nil {
		return
	}
	names := make([]string, 0, len(lanes))
	for _, lane := range lanes {
		names = append(names, lane.name)
	}
	if err := m.notifier.Publish(ctx, notifications.EventDaemonStarted, notifications.Payload{
		"lanes": strings.Join(names, ","),
	}); err != nil {
		m.logger.Debug("startup notification failed", logging.Error(err))
	}
}

// laneHalted records a lane stopped by a configuration error and tells the
// operator. The daemon keeps running so the status API stays reachable.
func (m *Manager) laneHalted(ctx context.Context, lane *laneState, cause error) {
	m.setLastError(cause)
	lane.logger.Error("lane stopped",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "lane_halted"),
		logging.String(logging.FieldErrorHint, "fix the configuration and restart the daemon"),
		logging.Alert("lane_halted"),
	)
	if m.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := m.notifier.Publish(notifyCtx, notifications.EventError, notifications.Payload{
		"context": lane.name + " lane",
		"error":   cause.Error(),
	}); err != nil {
		lane.logger.Debug("lane halt notification failed", logging.Error(err))
	}
}

// BreakerStateNotifier returns a breaker.StateChangeFunc that publishes
// circuit transitions. Publishing happens off the caller's goroutine so a
// slow ntfy server never delays the call that tripped the breaker.
func BreakerStateNotifier(notifier notifications.Service, logger *slog.Logger, recovery time.Duration) breaker.StateChangeFunc {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "breaker-notifier")
	return func(name string, from, to breaker.State, cause error) {
		attrs := []logging.Attr{
			logging.String("breaker", name),
			logging.String("from", string(from)),
			logging.String("to", string(to)),
		}
		if cause != nil {
			attrs = append(attrs, logging.Error(cause))
		}
		var (
			event   notifications.Event
			payload notifications.Payload
		)
		switch to {
		case breaker.StateOpen:
			logging.WarnWithContext(logger, "circuit opened", "breaker_opened", append(attrs,
				logging.String(logging.FieldErrorHint, "check the "+name+" dependency"),
				logging.String(logging.FieldImpact, "calls needing this dependency are released until it recovers"),
				logging.Alert("circuit_open"),
			)...)
			event = notifications.EventBreakerOpened
			payload = notifications.Payload{"dependency": name, "retry_after": recovery}
		case breaker.StateClosed:
			logger.Info("circuit closed", logging.Args(attrs...)...)
			event = notifications.EventBreakerClosed
			payload = notifications.Payload{"dependency": name}
		default:
			logger.Info("circuit probing", logging.Args(attrs...)...)
			return
		}
		if notifier == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := notifier.Publish(ctx, event, payload); err != nil {
				logger.Debug("breaker notification failed", logging.Error(err))
			}
		}()
	}
}
