package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Claim moves a call from expected to next with a single compare-and-swap
// update and stamps a fresh claim token, so a worker whose claim was reaped
// and handed to someone else cannot finish the call. Losing the race is not
// an error: it yields (nil, false, nil).
func (s *Store) Claim(ctx context.Context, id string, expected, next Status) (*Call, bool, error) {
	now := nowString()
	token := newID()
	res, err := s.execWithRetry(ctx,
		"UPDATE calls SET status = ?, claim_token = ?, claimed_at = ?, updated_at = ? WHERE id = ? AND status = ? AND claim_token IS NULL",
		string(next), token, now, now, id, string(expected),
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim %s: %w", id, err)
	}
	return s.claimedWithToken(ctx, res, id, token)
}

// ClaimSentinel takes ownership of a call without changing its status by
// writing a fresh claim token. The returned call carries the token that all
// later transitions must present.
func (s *Store) ClaimSentinel(ctx context.Context, id string, expected Status) (*Call, bool, error) {
	now := nowString()
	token := newID()
	res, err := s.execWithRetry(ctx,
		"UPDATE calls SET claim_token = ?, claimed_at = ?, updated_at = ? WHERE id = ? AND status = ? AND claim_token IS NULL",
		token, now, now, id, string(expected),
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim sentinel %s: %w", id, err)
	}
	return s.claimedWithToken(ctx, res, id, token)
}

// claimedWithToken reads back a claimed call. The read is detached from ctx:
// once the update landed the call is ours and must reach a worker even if
// shutdown starts in between.
func (s *Store) claimedWithToken(ctx context.Context, res interface{ RowsAffected() (int64, error) }, id, token string) (*Call, bool, error) {
	call, ok, err := s.claimed(context.WithoutCancel(ctx), res, id)
	if err != nil || !ok {
		return call, ok, err
	}
	if call.ClaimToken != token {
		// Reaped and reclaimed between the update and the read.
		return nil, false, nil
	}
	return call, true, nil
}

func (s *Store) claimed(ctx context.Context, res interface{ RowsAffected() (int64, error) }, id string) (*Call, bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected == 0 {
		return nil, false, nil
	}
	call, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if call == nil {
		return nil, false, nil
	}
	return call, true, nil
}

// FetchCandidates lists calls a lane may claim, newest first for LIFO lanes
// and oldest first for FIFO lanes.
func (s *Store) FetchCandidates(ctx context.Context, spec LaneSpec, limit int) ([]*Call, error) {
	if limit <= 0 {
		return nil, nil
	}
	conditions := []string{"status = ?"}
	args := []any{string(spec.Source)}
	if spec.MaxAttempts > 0 {
		conditions = append(conditions, "attempt_count < ?")
		args = append(args, spec.MaxAttempts)
	}
	if spec.Mode == ClaimBySentinel {
		conditions = append(conditions, "claim_token IS NULL")
	}
	if spec.RequireAudioURL {
		conditions = append(conditions, "audio_url IS NOT NULL", "audio_url <> ''")
	}
	if spec.RequireUnscored {
		conditions = append(conditions, "quality_flags IS NULL")
	}

	direction := "DESC"
	if spec.Order == OrderFIFO {
		direction = "ASC"
	}
	query := "SELECT " + callColumns + " FROM calls WHERE " + strings.Join(conditions, " AND ") +
		" ORDER BY created_at " + direction + ", id " + direction + " LIMIT ?"
	args = append(args, limit)

	calls, err := s.queryCalls(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s candidates: %w", spec.Name, err)
	}
	return calls, nil
}

// ClaimNext fetches up to limit candidates and claims each with the lane's
// claim mode. Candidates lost to another worker are skipped.
func (s *Store) ClaimNext(ctx context.Context, spec LaneSpec, limit int) ([]*Call, error) {
	candidates, err := s.FetchCandidates(ctx, spec, limit)
	if err != nil {
		return nil, err
	}
	claimed := make([]*Call, 0, len(candidates))
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		var (
			call *Call
			ok   bool
		)
		switch spec.Mode {
		case ClaimBySentinel:
			call, ok, err = s.ClaimSentinel(ctx, candidate.ID, spec.Source)
		default:
			call, ok, err = s.Claim(ctx, candidate.ID, spec.Source, spec.InProgress)
		}
		if err != nil {
			return claimed, err
		}
		if ok {
			claimed = append(claimed, call)
		}
	}
	return claimed, nil
}

// ClaimedBefore lists calls whose claim is older than cutoff. Used by
// diagnostics; the reaper itself works in bulk.
func (s *Store) ClaimedBefore(ctx context.Context, cutoff time.Time) ([]*Call, error) {
	return s.queryCalls(ctx,
		"SELECT "+callColumns+" FROM calls WHERE updated_at < ? AND (status = ? OR (claim_token IS NOT NULL AND status IN (?, ?))) ORDER BY updated_at ASC",
		formatTime(cutoff), string(StatusProcessing), string(StatusPending), string(StatusTranscribed),
	)
}
