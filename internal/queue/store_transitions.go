package queue

import (
	"context"
	"errors"
	"fmt"
)

// guard returns the WHERE fragment proving the caller still owns the call.
// Every claim carries a token; calls without one (written by hand or by an
// older build) fall back to the in-progress status.
func guard(call *Call) (string, []any) {
	if call.Claimed() {
		return "id = ? AND claim_token = ?", []any{call.ID, call.ClaimToken}
	}
	return "id = ? AND status = ?", []any{call.ID, string(call.Status)}
}

// Complete records a successful lane outcome and releases the claim.
func (s *Store) Complete(ctx context.Context, call *Call, completion Completion) error {
	if call == nil {
		return errors.New("complete: nil call")
	}
	if completion.Status == "" {
		return errors.New("complete: target status is required")
	}
	where, whereArgs := guard(call)
	query := `UPDATE calls SET
		status = ?,
		blob_path = COALESCE(?, blob_path),
		transcript_text = COALESCE(?, transcript_text),
		diarization_segments = COALESCE(?, diarization_segments),
		quality_flags = COALESCE(?, quality_flags),
		quality_version = COALESCE(?, quality_version),
		judge_model = COALESCE(?, judge_model),
		claim_token = NULL,
		claimed_at = NULL,
		updated_at = ?
		WHERE ` + where
	args := []any{
		string(completion.Status),
		nullableString(completion.BlobPath),
		nullableString(completion.TranscriptText),
		nullableBytes(completion.DiarizationSegments),
		nullableBytes(completion.QualityFlags),
		nullableString(completion.QualityVersion),
		nullableString(completion.JudgeModel),
		nowString(),
	}
	return s.transition(ctx, "complete", call, query, append(args, whereArgs...))
}

// Fail records a failed attempt. When failure.Consume is set the attempt
// counter is incremented.
func (s *Store) Fail(ctx context.Context, call *Call, failure Failure) error {
	if call == nil {
		return errors.New("fail: nil call")
	}
	if failure.Status == "" {
		return errors.New("fail: target status is required")
	}
	increment := 0
	if failure.Consume {
		increment = 1
	}
	where, whereArgs := guard(call)
	query := `UPDATE calls SET
		status = ?,
		attempt_count = attempt_count + ?,
		last_error = ?,
		claim_token = NULL,
		claimed_at = NULL,
		updated_at = ?
		WHERE ` + where
	args := []any{
		string(failure.Status),
		increment,
		TruncateError(failure.Error),
		nowString(),
	}
	return s.transition(ctx, "fail", call, query, append(args, whereArgs...))
}

// Release hands a claimed call back to status without consuming an attempt.
func (s *Store) Release(ctx context.Context, call *Call, status Status, reason string) error {
	return s.Fail(ctx, call, Failure{Status: status, Error: reason})
}

func (s *Store) transition(ctx context.Context, op string, call *Call, query string, args []any) error {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, call.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s rows affected: %w", op, call.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", op, call.ID, ErrClaimLost)
	}
	return nil
}
