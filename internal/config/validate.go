package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLanes(); err != nil {
		return err
	}
	if err := c.validateBreaker(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

// ValidateCredentials checks the collaborator credentials the daemon needs
// before it starts processing. CLI commands that only inspect the queue skip it.
func (c *Config) ValidateCredentials() error {
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = "~/.config/callpipe/config.toml"
	}
	if c.Lanes.Factory.Enabled && c.Inference.BaseURL == "" {
		return fmt.Errorf("inference.base_url is required. Set INFERENCE_BASE_URL env var or edit %s", defaultPath)
	}
	if c.Lanes.Judge.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required. Set OPENAI_API_KEY env var or edit %s", defaultPath)
	}
	if c.Ingest.Enabled {
		if c.CallLog.Token == "" {
			return fmt.Errorf("calllog.token is required. Set CALLLOG_TOKEN env var or edit %s", defaultPath)
		}
		if c.CallLog.AccountID == "" {
			return fmt.Errorf("calllog.account_id is required. Set CALLLOG_ACCOUNT_ID env var or edit %s", defaultPath)
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		return nil
	case "pgx", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.driver is %q", c.Database.Driver)
		}
		return nil
	default:
		return fmt.Errorf("database.driver: unsupported value %q (expected sqlite, pgx, or mysql)", c.Database.Driver)
	}
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.reaper_interval":      c.Workflow.ReaperInterval,
		"workflow.zombie_ttl_minutes":   c.Workflow.ZombieTTLMinutes,
		"workflow.max_attempts":         c.Workflow.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Workflow.ReaperInterval >= c.Workflow.ZombieTTLMinutes*60 {
		return errors.New("workflow.reaper_interval must be shorter than workflow.zombie_ttl_minutes")
	}
	return nil
}

func (c *Config) validateLanes() error {
	lanes := map[string]Lane{
		"vault":   c.Lanes.Vault,
		"factory": c.Lanes.Factory,
		"judge":   c.Lanes.Judge,
	}
	for name, lane := range lanes {
		if err := ensurePositiveMap(map[string]int{
			"lanes." + name + ".batch_size":      lane.BatchSize,
			"lanes." + name + ".workers":         lane.Workers,
			"lanes." + name + ".poll_interval":   lane.PollInterval,
			"lanes." + name + ".timeout_seconds": lane.TimeoutSeconds,
		}); err != nil {
			return err
		}
		if lane.Order != "lifo" && lane.Order != "fifo" {
			return fmt.Errorf("lanes.%s.order: unsupported value %q (expected lifo or fifo)", name, lane.Order)
		}
	}
	return nil
}

func (c *Config) validateBreaker() error {
	return ensurePositiveMap(map[string]int{
		"breaker.failure_threshold": c.Breaker.FailureThreshold,
		"breaker.recovery_timeout":  c.Breaker.RecoveryTimeout,
		"breaker.success_threshold": c.Breaker.SuccessThreshold,
	})
}

func (c *Config) validateQuality() error {
	if c.Quality.FlagThreshold < 0 || c.Quality.FlagThreshold > 100 {
		return errors.New("quality.flag_threshold must be between 0 and 100")
	}
	if c.Quality.MinTranscriptLength < 0 {
		return errors.New("quality.min_transcript_length must not be negative")
	}
	return nil
}

func (c *Config) validateIngest() error {
	return ensurePositiveMap(map[string]int{
		"ingest.sync_interval":        c.Ingest.SyncInterval,
		"ingest.lookback_minutes":     c.Ingest.LookbackMinutes,
		"ingest.backfill_chunk_hours": c.Ingest.BackfillChunkHours,
		"calllog.page_size":           c.CallLog.PageSize,
		"calllog.timeout_seconds":     c.CallLog.TimeoutSeconds,
	})
}

func (c *Config) validateAPI() error {
	if c.API.Enabled && c.API.Secret == "" {
		return errors.New("api.secret must be set when api.enabled is true (or set CALLPIPE_API_SECRET)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
