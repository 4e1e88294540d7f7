package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDatabase()
	c.normalizeLanes()
	c.normalizeInference()
	c.normalizeLLM()
	if err := c.normalizeQuality(); err != nil {
		return err
	}
	c.normalizeCallLog()
	c.normalizeRedis()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.BlobDir, err = expandPath(c.Paths.BlobDir); err != nil {
		return fmt.Errorf("paths.blob_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	driver := strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch driver {
	case "", "sqlite3":
		driver = "sqlite"
	case "postgres", "postgresql", "pg":
		driver = "pgx"
	}
	c.Database.Driver = driver
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("CALLPIPE_DATABASE_DSN"); ok {
			c.Database.DSN = strings.TrimSpace(value)
		}
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = defaultMaxOpenConns
	}
}

func (c *Config) normalizeLanes() {
	for _, lane := range []*Lane{&c.Lanes.Vault, &c.Lanes.Factory, &c.Lanes.Judge} {
		lane.Order = strings.ToLower(strings.TrimSpace(lane.Order))
		if lane.Order == "" {
			lane.Order = defaultLaneOrder
		}
	}
}

func (c *Config) normalizeInference() {
	c.Inference.BaseURL = strings.TrimRight(strings.TrimSpace(c.Inference.BaseURL), "/")
	if c.Inference.BaseURL == "" {
		if value, ok := os.LookupEnv("INFERENCE_BASE_URL"); ok {
			c.Inference.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
		}
	}
	c.Inference.APIKey = strings.TrimSpace(c.Inference.APIKey)
	if c.Inference.APIKey == "" {
		if value, ok := os.LookupEnv("INFERENCE_API_KEY"); ok {
			c.Inference.APIKey = strings.TrimSpace(value)
		}
	}
	c.Inference.Model = strings.TrimSpace(c.Inference.Model)
	if c.Inference.Model == "" {
		c.Inference.Model = defaultInferenceModel
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
}

func (c *Config) normalizeQuality() error {
	c.Quality.Version = strings.TrimSpace(c.Quality.Version)
	if c.Quality.Version == "" {
		c.Quality.Version = defaultQualityVersion
	}
	if strings.TrimSpace(c.Quality.RulesPath) == "" {
		c.Quality.RulesPath = ""
		return nil
	}
	var err error
	if c.Quality.RulesPath, err = expandPath(c.Quality.RulesPath); err != nil {
		return fmt.Errorf("quality.rules_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeCallLog() {
	c.CallLog.BaseURL = strings.TrimRight(strings.TrimSpace(c.CallLog.BaseURL), "/")
	if c.CallLog.BaseURL == "" {
		c.CallLog.BaseURL = defaultCallLogBaseURL
	}
	c.CallLog.Token = strings.TrimSpace(c.CallLog.Token)
	if c.CallLog.Token == "" {
		if value, ok := os.LookupEnv("CALLLOG_TOKEN"); ok {
			c.CallLog.Token = strings.TrimSpace(value)
		}
	}
	c.CallLog.AccountID = strings.TrimSpace(c.CallLog.AccountID)
	if c.CallLog.AccountID == "" {
		if value, ok := os.LookupEnv("CALLLOG_ACCOUNT_ID"); ok {
			c.CallLog.AccountID = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeRedis() {
	c.Redis.URL = strings.TrimSpace(c.Redis.URL)
	if c.Redis.URL == "" {
		if value, ok := os.LookupEnv("REDIS_URL"); ok {
			c.Redis.URL = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Redis.KeyPrefix) == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Secret = strings.TrimSpace(c.API.Secret)
	if c.API.Secret == "" {
		if value, ok := os.LookupEnv("CALLPIPE_API_SECRET"); ok {
			c.API.Secret = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
