package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReapZombies releases every claim older than cutoff in one statement.
// Calls stuck in processing fall back to downloaded; sentinel claims on
// pending and transcribed calls are cleared. attempt_count is not touched.
func (s *Store) ReapZombies(ctx context.Context, cutoff time.Time) (int64, error) {
	message := fmt.Sprintf("%s: claim older than %s", ZombieResetPrefix, formatTime(cutoff))
	res, err := s.execWithRetry(ctx, `UPDATE calls SET
		status = CASE WHEN status = ? THEN ? ELSE status END,
		claim_token = NULL,
		claimed_at = NULL,
		last_error = ?,
		updated_at = ?
		WHERE updated_at < ?
		AND (status = ? OR (claim_token IS NOT NULL AND status IN (?, ?)))`,
		string(StatusProcessing), string(StatusDownloaded),
		message,
		nowString(),
		formatTime(cutoff),
		string(StatusProcessing), string(StatusPending), string(StatusTranscribed),
	)
	if err != nil {
		return 0, fmt.Errorf("reap zombies: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed calls back into the pipeline with a fresh attempt
// budget. Each call resumes at the furthest stage its payload allows:
// transcribed when a transcript exists, downloaded when audio is stored,
// pending when only an audio URL is known. Calls with none stay failed.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE calls SET
		status = CASE
			WHEN transcript_text IS NOT NULL THEN ?
			WHEN blob_path IS NOT NULL THEN ?
			ELSE ? END,
		attempt_count = 0,
		claim_token = NULL,
		claimed_at = NULL,
		updated_at = ?
		WHERE status = ?
		AND (transcript_text IS NOT NULL OR blob_path IS NOT NULL OR audio_url IS NOT NULL)`
	args := []any{
		string(StatusTranscribed), string(StatusDownloaded), string(StatusPending),
		nowString(),
		string(StatusFailed),
	}
	if len(ids) > 0 {
		query += " AND id IN (" + makePlaceholders(len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed calls: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns call counts keyed by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.query(ctx, "SELECT status, COUNT(*) FROM calls GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Health summarizes queue counts for status displays.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	var summary HealthSummary
	for status, count := range stats {
		summary.Total += count
		switch status {
		case StatusPending, StatusDownloaded, StatusTranscribed:
			summary.Waiting += count
		case StatusProcessing:
			summary.InFlight += count
		}
		if IsTerminal(status) {
			summary.Terminal += count
		}
		if status == StatusFailed {
			summary.Failed += count
		}
	}
	var claimed int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM calls WHERE claim_token IS NOT NULL AND status <> ?", string(StatusProcessing)).Scan(&claimed); err != nil {
		return HealthSummary{}, err
	}
	summary.InFlight += claimed
	summary.Waiting -= claimed
	return summary, nil
}

// CheckHealth inspects the database for diagnostics without failing hard.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{Driver: s.dialect.name, Target: s.target}
	if s.db == nil {
		health.Error = "database not initialized"
		return health, errors.New(health.Error)
	}
	if err := s.db.PingContext(ensureContext(ctx)); err != nil {
		health.Error = err.Error()
		return health, nil
	}
	health.Reachable = true

	var exists int
	if err := s.queryRow(ctx, s.dialect.tableExistsQuery(), "calls").Scan(&exists); err != nil {
		health.Error = err.Error()
		return health, nil
	}
	health.TableExists = exists > 0

	if err := s.queryRow(ctx, "SELECT version FROM schema_version").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, nil
	}
	if health.TableExists {
		if err := s.queryRow(ctx, "SELECT COUNT(*) FROM calls").Scan(&health.TotalCalls); err != nil {
			health.Error = err.Error()
			return health, nil
		}
	}

	health.IntegrityCheck = true
	if s.dialect.name == DialectSQLite {
		var result string
		if err := s.queryRow(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
			health.Error = err.Error()
			health.IntegrityCheck = false
		} else {
			health.IntegrityCheck = result == "ok"
		}
	}
	return health, nil
}
