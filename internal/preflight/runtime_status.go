package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"callpipe/internal/config"
	"callpipe/internal/queue"
)

const redisCheckTimeout = 2 * time.Second

// CheckDatabase reports queue database reachability and schema state.
func CheckDatabase(ctx context.Context, store *queue.Store) Result {
	const name = "Database"

	if store == nil {
		return Result{Name: name, Detail: "Not opened"}
	}
	health, err := store.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if !health.Reachable {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable: %s", health.Driver, health.Error)}
	}
	if health.Error != "" || !health.TableExists || !health.IntegrityCheck {
		return Result{Name: name, Detail: fmt.Sprintf("%s schema v%d: %s", health.Driver, health.SchemaVersion, firstNonEmpty(health.Error, "integrity check failed"))}
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("%s schema v%d, %d calls", health.Driver, health.SchemaVersion, health.TotalCalls),
	}
}

// CheckCallLogFromConfig evaluates whether ingestion has credentials to run.
func CheckCallLogFromConfig(cfg *config.Config) Result {
	const name = "Call log API"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Ingest.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if strings.TrimSpace(cfg.CallLog.AccountID) == "" {
		return Result{Name: name, Detail: "Missing account id"}
	}
	if strings.TrimSpace(cfg.CallLog.Token) == "" {
		return Result{Name: name, Detail: "Missing token"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured"}
}

// CheckRedisFromConfig pings the campaign cache when one is configured.
func CheckRedisFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Redis cache"

	if cfg == nil || strings.TrimSpace(cfg.Redis.URL) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled (in-memory cache)"}
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	client := redis.NewClient(opts)
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, redisCheckTimeout)
	defer cancel()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: summarizeError("redis", err)}
	}
	return Result{Name: name, Passed: true, Detail: opts.Addr}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
