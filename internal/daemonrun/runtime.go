package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callpipe/internal/breaker"
	"callpipe/internal/config"
	"callpipe/internal/factory"
	"callpipe/internal/ingest"
	"callpipe/internal/judge"
	"callpipe/internal/logging"
	"callpipe/internal/services/blob"
	"callpipe/internal/services/calllog"
	"callpipe/internal/services/inference"
	"callpipe/internal/services/llm"
	"callpipe/internal/services/rules"
	"callpipe/internal/vault"
	"callpipe/internal/workflow"
)

// laneRuntime holds the handlers for the enabled lanes plus the background
// watchers they depend on.
type laneRuntime struct {
	lanes  workflow.LaneSet
	rules  *rules.Store
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *laneRuntime) close() {
	if r == nil {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// buildRuntime constructs the service clients and lane handlers for every
// enabled lane. Disabled lanes get no handler and no client.
func buildRuntime(ctx context.Context, cfg *config.Config, breakers *breaker.Registry, logger *slog.Logger) (*laneRuntime, error) {
	lanes := cfg.Lanes
	rt := &laneRuntime{}

	var blobs *blob.FS
	if lanes.Vault.Enabled || lanes.Factory.Enabled {
		fs, err := blob.NewFS(cfg.Paths.BlobDir)
		if err != nil {
			return nil, fmt.Errorf("blob store: %w", err)
		}
		blobs = fs
	}

	if lanes.Vault.Enabled {
		rt.lanes.Vault = vault.NewHandler(cfg, blobs, breakers, logger)
	}

	if lanes.Factory.Enabled {
		client, err := inference.New(inference.Config{
			BaseURL:        cfg.Inference.BaseURL,
			APIKey:         cfg.Inference.APIKey,
			Model:          cfg.Inference.Model,
			TimeoutSeconds: cfg.Inference.TimeoutSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("inference client: %w", err)
		}
		rt.lanes.Factory = factory.NewHandler(cfg, blobs, client, breakers, logger)
	}

	if lanes.Judge.Enabled {
		store, err := rules.NewStore(cfg.Quality.RulesPath, logger)
		if err != nil {
			return nil, fmt.Errorf("quality rules: %w", err)
		}
		rt.rules = store
		analyzer := llm.NewAnalyzer(llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}))
		rt.lanes.Judge = judge.NewHandler(cfg, analyzer, store, breakers, logger)

		watchCtx, cancel := context.WithCancel(ctx)
		rt.cancel = cancel
		rt.wg.Go(func() {
			if err := store.Watch(watchCtx); err != nil {
				logging.WarnWithContext(logger, "rules watcher stopped", "rules_watch_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "restart the daemon to pick up rule changes"),
				)
			}
		})
	}
	return rt, nil
}

func newCallLogClient(cfg *config.Config) (*calllog.Client, error) {
	return calllog.New(calllog.Config{
		BaseURL:        cfg.CallLog.BaseURL,
		AccountID:      cfg.CallLog.AccountID,
		Token:          cfg.CallLog.Token,
		PageSize:       cfg.CallLog.PageSize,
		TimeoutSeconds: cfg.CallLog.TimeoutSeconds,
	})
}

// newCampaignCache returns the Redis-backed cache when redis.url is set and
// reachable, falling back to process memory otherwise.
func newCampaignCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) ingest.CampaignCache {
	if cfg.Redis.URL == "" {
		return ingest.NewMemoryCache()
	}
	cache, err := ingest.OpenRedisCache(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix, time.Duration(cfg.Redis.TTLMinutes)*time.Minute)
	if err != nil {
		logging.WarnWithContext(logger, "redis campaign cache unavailable", "redis_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check redis.url"),
			logging.String(logging.FieldImpact, "campaign lookups fall back to process memory"),
		)
		return ingest.NewMemoryCache()
	}
	return cache
}
