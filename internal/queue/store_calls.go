package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

// UpsertCampaign inserts a campaign or refreshes its name and returns the
// internal campaign id.
func (s *Store) UpsertCampaign(ctx context.Context, campaign Campaign) (string, error) {
	externalID := strings.TrimSpace(campaign.ExternalID)
	if externalID == "" {
		return "", errors.New("campaign external id is required")
	}
	now := nowString()
	query := "INSERT INTO campaigns (id, external_id, name, vertical, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)" +
		s.dialect.upsert("external_id",
			"name = COALESCE(NEW(name), "+s.dialect.qualify("campaigns", "name")+")",
			"vertical = COALESCE(NEW(vertical), "+s.dialect.qualify("campaigns", "vertical")+")",
			"updated_at = NEW(updated_at)",
		)
	if _, err := s.execWithRetry(ctx, query,
		newID(),
		externalID,
		nullableString(campaign.Name),
		nullableString(campaign.Vertical),
		now,
		now,
	); err != nil {
		return "", fmt.Errorf("upsert campaign %s: %w", externalID, err)
	}

	var id string
	if err := s.queryRow(ctx, "SELECT id FROM campaigns WHERE external_id = ?", externalID).Scan(&id); err != nil {
		return "", fmt.Errorf("resolve campaign %s: %w", externalID, err)
	}
	return id, nil
}

// CampaignByExternalID returns nil when the campaign is unknown.
func (s *Store) CampaignByExternalID(ctx context.Context, externalID string) (*Campaign, error) {
	row := s.queryRow(ctx, "SELECT id, external_id, name, vertical FROM campaigns WHERE external_id = ?", externalID)
	var (
		campaign Campaign
		name     sql.NullString
		vertical sql.NullString
	)
	if err := row.Scan(&campaign.ID, &campaign.ExternalID, &name, &vertical); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	campaign.Name = name.String
	campaign.Vertical = vertical.String
	return &campaign, nil
}

// UpsertCalls writes ingestion rows keyed by external_id in one transaction.
// Existing calls only have their source metadata refreshed: status, attempts,
// claims and pipeline payloads stay untouched so a re-sync never rewinds work.
func (s *Store) UpsertCalls(ctx context.Context, inputs []CallInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}
	ctx = ensureContext(ctx)
	query := s.dialect.rebind("INSERT INTO calls (id, external_id, campaign_id, campaign_name, caller_number, status, attempt_count, audio_url, skip_reason, duration_seconds, revenue, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)" +
		s.dialect.upsert("external_id",
			"audio_url = COALESCE(NEW(audio_url), "+s.dialect.qualify("calls", "audio_url")+")",
			"duration_seconds = COALESCE(NEW(duration_seconds), "+s.dialect.qualify("calls", "duration_seconds")+")",
			"revenue = NEW(revenue)",
		))

	written := 0
	err := retryOnContention(ctx, func() error {
		written = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := nowString()
		for _, input := range inputs {
			externalID := strings.TrimSpace(input.ExternalID)
			if externalID == "" {
				continue
			}
			status := input.Status
			if status == "" {
				status = StatusPending
			}
			created := now
			if !input.CreatedAt.IsZero() {
				created = formatTime(input.CreatedAt)
			}
			if _, err := tx.ExecContext(ctx, query,
				newID(),
				externalID,
				nullableString(input.CampaignID),
				nullableString(input.CampaignName),
				nullableString(input.CallerNumber),
				string(status),
				nullableString(input.AudioURL),
				nullableString(input.SkipReason),
				nullableInt(input.DurationSeconds),
				input.Revenue,
				created,
				now,
			); err != nil {
				return fmt.Errorf("upsert call %s: %w", externalID, err)
			}
			written++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Get fetches a call by id. A missing call yields (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Call, error) {
	return s.getOne(ctx, "SELECT "+callColumns+" FROM calls WHERE id = ?", id)
}

// GetByExternalID fetches a call by its call-log identifier.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*Call, error) {
	return s.getOne(ctx, "SELECT "+callColumns+" FROM calls WHERE external_id = ?", externalID)
}

func (s *Store) getOne(ctx context.Context, query string, arg string) (*Call, error) {
	call, err := scanCall(s.queryRow(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return call, nil
}

// List returns calls newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Call, error) {
	query := "SELECT " + callColumns + " FROM calls"
	args := make([]any, 0, len(filter.Statuses)+2)
	if len(filter.Statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(filter.Statuses)) + ")"
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}
	return s.queryCalls(ctx, query, args...)
}

func (s *Store) queryCalls(ctx context.Context, query string, args ...any) ([]*Call, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

// CountSince counts calls created at or after the given time.
func (s *Store) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM calls WHERE created_at >= ?", formatTime(since)).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Update overwrites the mutable fields of a call without any claim guard.
// It backs operator tooling; lanes use the guarded transitions instead. A
// zero UpdatedAt is replaced with the current time.
func (s *Store) Update(ctx context.Context, call *Call) error {
	if call == nil || call.ID == "" {
		return errors.New("update: call id is required")
	}
	updated := nowString()
	if !call.UpdatedAt.IsZero() {
		updated = formatTime(call.UpdatedAt)
	}
	var claimedAt any
	if call.ClaimedAt != nil {
		claimedAt = formatTime(*call.ClaimedAt)
	}
	_, err := s.execWithRetry(ctx, `UPDATE calls SET
		status = ?,
		attempt_count = ?,
		audio_url = ?,
		blob_path = ?,
		claim_token = ?,
		claimed_at = ?,
		transcript_text = ?,
		diarization_segments = ?,
		quality_flags = ?,
		quality_version = ?,
		judge_model = ?,
		skip_reason = ?,
		last_error = ?,
		updated_at = ?
		WHERE id = ?`,
		string(call.Status),
		call.AttemptCount,
		nullableString(call.AudioURL),
		nullableString(call.BlobPath),
		nullableString(call.ClaimToken),
		claimedAt,
		nullableString(call.TranscriptText),
		nullableString(call.DiarizationSegments),
		nullableString(call.QualityFlags),
		nullableString(call.QualityVersion),
		nullableString(call.JudgeModel),
		nullableString(call.SkipReason),
		nullableString(call.LastError),
		updated,
		call.ID,
	)
	if err != nil {
		return fmt.Errorf("update call %s: %w", call.ID, err)
	}
	return nil
}
