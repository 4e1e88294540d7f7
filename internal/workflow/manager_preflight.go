package workflow

import (
	"context"

	"callpipe/internal/logging"
	"callpipe/internal/preflight"
)

// Preflight runs the readiness checks for the configured lanes and logs
// each result. It returns an error describing every failed check.
func (m *Manager) Preflight(ctx context.Context) error {
	results := preflight.RunAll(ctx, m.cfg)
	for _, r := range results {
		if r.Passed {
			m.logger.Info("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		m.logger.Error("preflight check failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix the reported issue and restart the daemon"),
		)
	}
	return preflight.Failures(results)
}
