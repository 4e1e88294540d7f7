package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	BlobDir string `toml:"blob_dir"`
	TempDir string `toml:"temp_dir"`
}

// Database selects the queue dialect and connection string.
type Database struct {
	// Driver is one of "sqlite", "pgx", or "mysql".
	Driver       string `toml:"driver"`
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// Workflow contains configuration for daemon timing and recovery.
type Workflow struct {
	ErrorRetryInterval int `toml:"error_retry_interval"`
	ReaperInterval     int `toml:"reaper_interval"`
	ZombieTTLMinutes   int `toml:"zombie_ttl_minutes"`
	MaxAttempts        int `toml:"max_attempts"`
}

// Lane tunes a single processing lane.
type Lane struct {
	Enabled        bool   `toml:"enabled"`
	BatchSize      int    `toml:"batch_size"`
	Workers        int    `toml:"workers"`
	PollInterval   int    `toml:"poll_interval"`
	Order          string `toml:"order"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Lanes groups the three processing lanes.
type Lanes struct {
	Vault   Lane `toml:"vault"`
	Factory Lane `toml:"factory"`
	Judge   Lane `toml:"judge"`
}

// Breaker holds circuit breaker thresholds shared by every dependency.
type Breaker struct {
	FailureThreshold int `toml:"failure_threshold"`
	RecoveryTimeout  int `toml:"recovery_timeout"`
	SuccessThreshold int `toml:"success_threshold"`
}

// Inference contains configuration for the speech inference service.
type Inference struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LLM contains connection settings for the quality analysis model.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Quality contains configuration for the judge lane.
type Quality struct {
	FlagThreshold       int    `toml:"flag_threshold"`
	MinTranscriptLength int    `toml:"min_transcript_length"`
	RulesPath           string `toml:"rules_path"`
	Version             string `toml:"version"`
}

// CallLog contains configuration for the call metadata API.
type CallLog struct {
	BaseURL        string `toml:"base_url"`
	AccountID      string `toml:"account_id"`
	Token          string `toml:"token"`
	PageSize       int    `toml:"page_size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Ingest contains configuration for the live metadata sync and backfills.
type Ingest struct {
	Enabled              bool `toml:"enabled"`
	SyncInterval         int  `toml:"sync_interval"`
	LookbackMinutes      int  `toml:"lookback_minutes"`
	BackfillChunkHours   int  `toml:"backfill_chunk_hours"`
	BackfillDelaySeconds int  `toml:"backfill_delay_seconds"`
}

// Redis configures the optional shared campaign cache.
type Redis struct {
	URL        string `toml:"url"`
	KeyPrefix  string `toml:"key_prefix"`
	TTLMinutes int    `toml:"ttl_minutes"`
}

// API configures the daemon status API.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Secret  string `toml:"secret"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	DeadLetters    bool   `toml:"dead_letters"`
	Breakers       bool   `toml:"breakers"`
	Backfill       bool   `toml:"backfill"`
}

// Media contains external binary names used by the factory lane.
type Media struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	// MinFreeSpaceMB is the scratch space preflight requires under temp_dir.
	MinFreeSpaceMB int `toml:"min_free_space_mb"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for callpipe.
//
// Configuration sections by subsystem:
//   - Paths: data, log, blob, and scratch directories
//   - Database: queue dialect and DSN
//   - Workflow: reaper cadence, zombie TTL, and retry ceiling
//   - Lanes: per-lane batch size, worker count, and ordering
//   - Breaker: circuit breaker thresholds
//   - Inference, LLM, CallLog: external collaborator credentials
//   - Quality: judge thresholds and rule set location
//   - Ingest, Redis: metadata sync and campaign cache
//   - API, Notifications, Media, Logging: daemon surfaces and tooling
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	Workflow      Workflow      `toml:"workflow"`
	Lanes         Lanes         `toml:"lanes"`
	Breaker       Breaker       `toml:"breaker"`
	Inference     Inference     `toml:"inference"`
	LLM           LLM           `toml:"llm"`
	Quality       Quality       `toml:"quality"`
	CallLog       CallLog       `toml:"calllog"`
	Ingest        Ingest        `toml:"ingest"`
	Redis         Redis         `toml:"redis"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Media         Media         `toml:"media"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/callpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("callpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.BlobDir, c.Paths.TempDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SQLitePath returns the queue database file used by the sqlite dialect.
func (c *Config) SQLitePath() string {
	if dsn := strings.TrimSpace(c.Database.DSN); dsn != "" {
		return dsn
	}
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "callpiped.lock")
}

// ZombieTTL converts the configured zombie threshold to a duration.
func (c *Config) ZombieTTL() time.Duration {
	return time.Duration(c.Workflow.ZombieTTLMinutes) * time.Minute
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Media.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for duration probes.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Media.FFprobeBinary); bin != "" {
		return bin
	}
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
