package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callpipe/internal/backfill"
	"callpipe/internal/logging"
	"callpipe/internal/queue"
	"callpipe/internal/services"
)

// Result summarizes one ingested window.
type Result struct {
	Fetched  int
	Upserted int
	Skipped  int
}

// Syncer writes call-log records into the queue.
type Syncer struct {
	store  *queue.Store
	source services.MetadataSource
	cache  CampaignCache
	logger *slog.Logger
	now    func() time.Time
}

// NewSyncer builds a syncer. A nil cache uses a MemoryCache.
func NewSyncer(store *queue.Store, source services.MetadataSource, cache CampaignCache, logger *slog.Logger) *Syncer {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Syncer{
		store:  store,
		source: source,
		cache:  cache,
		logger: logging.NewComponentLogger(logger, "ingest"),
		now:    time.Now,
	}
}

// Ingest upserts records. Existing calls keep their pipeline state.
func (s *Syncer) Ingest(ctx context.Context, records []services.CallRecord) (Result, error) {
	result := Result{Fetched: len(records)}
	if len(records) == 0 {
		return result, nil
	}
	inputs := make([]queue.CallInput, 0, len(records))
	for _, record := range records {
		if strings.TrimSpace(record.ExternalID) == "" {
			continue
		}
		campaignID, err := s.resolveCampaign(ctx, record)
		if err != nil {
			return result, err
		}
		input := ToInput(record, campaignID)
		if input.Status == queue.StatusSkipped {
			result.Skipped++
		}
		inputs = append(inputs, input)
	}
	written, err := s.store.UpsertCalls(ctx, inputs)
	if err != nil {
		return result, fmt.Errorf("upsert calls: %w", err)
	}
	result.Upserted = written
	return result, nil
}

func (s *Syncer) resolveCampaign(ctx context.Context, record services.CallRecord) (string, error) {
	externalID := strings.TrimSpace(record.CampaignExternalID)
	if externalID == "" {
		return "", nil
	}
	if id, ok, err := s.cache.Get(ctx, externalID); err != nil {
		logging.WarnWithContext(s.logger, "campaign cache read failed", "campaign_cache_error",
			logging.String("campaign_external_id", externalID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "falling back to the database"),
		)
	} else if ok {
		return id, nil
	}
	id, err := s.store.UpsertCampaign(ctx, queue.Campaign{ExternalID: externalID, Name: strings.TrimSpace(record.CampaignName)})
	if err != nil {
		return "", err
	}
	if err := s.cache.Put(ctx, externalID, id); err != nil {
		logging.WarnWithContext(s.logger, "campaign cache write failed", "campaign_cache_error",
			logging.String("campaign_external_id", externalID),
			logging.Error(err),
		)
	}
	return id, nil
}

// SyncWindow fetches [start, end) from the metadata source and ingests it.
func (s *Syncer) SyncWindow(ctx context.Context, start, end time.Time) (Result, error) {
	if s.source == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "ingest", "fetch", "metadata source not configured", nil)
	}
	records, err := s.source.Fetch(ctx, start, end)
	if err != nil {
		return Result{}, err
	}
	return s.Ingest(ctx, records)
}

// Fetch adapts SyncWindow to the backfill runner.
func (s *Syncer) Fetch(ctx context.Context, window backfill.Window) (int, error) {
	result, err := s.SyncWindow(ctx, window.Start, window.End)
	return result.Upserted, err
}

// Run re-reads the last lookback of call logs every interval until ctx is
// cancelled. Failed syncs are logged and retried on the next tick, except
// configuration errors, which stop the loop and are returned.
func (s *Syncer) Run(ctx context.Context, interval, lookback time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", interval)
	}
	if lookback <= 0 {
		lookback = interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.syncOnce(ctx, lookback); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Syncer) syncOnce(ctx context.Context, lookback time.Duration) error {
	end := s.now().UTC()
	start := end.Add(-lookback)
	result, err := s.SyncWindow(ctx, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if services.IsConfiguration(err) {
			return fmt.Errorf("live sync: %w", err)
		}
		logging.WarnWithContext(s.logger, "live sync failed", "ingest_sync_failed",
			logging.Error(err),
			logging.String("window", backfill.Window{Start: start, End: end}.String()),
			logging.String(logging.FieldErrorHint, "check calllog connectivity"),
			logging.String(logging.FieldImpact, "new calls are picked up on the next successful sync"),
		)
		return nil
	}
	if result.Fetched > 0 {
		s.logger.Info("live sync complete",
			logging.Int("fetched", result.Fetched),
			logging.Int("upserted", result.Upserted),
			logging.Int("skipped", result.Skipped),
		)
	}
	return nil
}
