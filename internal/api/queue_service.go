package api

import (
	"context"
	"strings"

	"callpipe/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Call, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	Get(ctx context.Context, id string) (*queue.Call, error)
	RetryFailed(ctx context.Context, ids ...string) (int64, error)
}

// QueueService exposes queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns calls filtered by status.
func (s *QueueService) List(ctx context.Context, filter queue.ListFilter) ([]CallItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	calls, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromCalls(calls), nil
}

// Stats returns queue counts keyed by status plus the total.
func (s *QueueService) Stats(ctx context.Context) (QueueStatsResponse, error) {
	if s == nil || s.store == nil {
		return QueueStatsResponse{}, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return QueueStatsResponse{}, err
	}
	resp := QueueStatsResponse{Counts: MergeQueueStats(stats)}
	for _, count := range stats {
		resp.Total += count
	}
	return resp, nil
}

// Describe fetches a single call with its full payload. A missing call
// yields (nil, nil).
func (s *QueueService) Describe(ctx context.Context, id string) (*CallItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	call, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil || call == nil {
		return nil, err
	}
	dto := FromCallDetail(call)
	return &dto, nil
}

// Retry moves failed calls back into the pipeline.
func (s *QueueService) Retry(ctx context.Context, ids []string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, nil
	}
	return s.store.RetryFailed(ctx, ids...)
}

// ParseStatuses converts user input into queue statuses, ignoring blanks.
// Unknown values are returned in the second slice.
func ParseStatuses(values []string) ([]queue.Status, []string) {
	var (
		statuses []queue.Status
		unknown  []string
	)
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status, ok := queue.ParseStatus(part)
			if !ok {
				unknown = append(unknown, part)
				continue
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, unknown
}
