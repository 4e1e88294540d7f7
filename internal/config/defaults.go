package config

const (
	defaultDataDir               = "~/.local/share/callpipe"
	defaultLogDir                = "~/.local/share/callpipe/logs"
	defaultBlobDir               = "~/.local/share/callpipe/blobs"
	defaultTempDir               = "~/.local/share/callpipe/tmp"
	defaultDatabaseDriver        = "sqlite"
	defaultMaxOpenConns          = 10
	defaultErrorRetryInterval    = 10
	defaultReaperInterval        = 60
	defaultZombieTTLMinutes      = 30
	defaultMaxAttempts           = 3
	defaultLaneOrder             = "lifo"
	defaultBreakerFailures       = 5
	defaultBreakerRecovery       = 60
	defaultBreakerSuccesses      = 2
	defaultInferenceTimeout      = 900
	defaultLLMBaseURL            = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel              = "gpt-4o-mini"
	defaultLLMTitle              = "callpipe quality judge"
	defaultLLMTimeoutSeconds     = 120
	defaultFlagThreshold         = 70
	defaultMinTranscriptLength   = 50
	defaultQualityVersion        = "v1"
	defaultCallLogBaseURL        = "https://api.ringba.com/v2"
	defaultCallLogPageSize       = 1000
	defaultCallLogTimeout        = 30
	defaultIngestSyncInterval    = 60
	defaultIngestLookbackMinutes = 5
	defaultBackfillChunkHours    = 24
	defaultBackfillDelaySeconds  = 1
	defaultRedisKeyPrefix        = "callpipe:campaign:"
	defaultRedisTTLMinutes       = 60
	defaultAPIBind               = "127.0.0.1:7490"
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultVaultBatchSize        = 10
	defaultVaultWorkers          = 5
	defaultVaultPollInterval     = 5
	defaultVaultTimeoutSeconds   = 60
	defaultFactoryBatchSize      = 2
	defaultFactoryWorkers        = 1
	defaultFactoryPollInterval   = 10
	defaultFactoryTimeoutSeconds = 1800
	defaultJudgeBatchSize        = 5
	defaultJudgeWorkers          = 2
	defaultJudgePollInterval     = 10
	defaultJudgeTimeoutSeconds   = 300
	defaultNotifyDeadLetters     = true
	defaultNotifyBreakers        = true
	defaultNotifyBackfill        = true
	defaultMinFreeSpaceMB        = 512
	defaultIngestEnabled         = true
	defaultLaneEnabled           = true
	defaultAPIEnabled            = false
	defaultInferenceModel        = "whisperx-large-v3"
	defaultLLMReferer            = "https://github.com/callpipe/callpipe"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			BlobDir: defaultBlobDir,
			TempDir: defaultTempDir,
		},
		Database: Database{
			Driver:       defaultDatabaseDriver,
			MaxOpenConns: defaultMaxOpenConns,
		},
		Workflow: Workflow{
			ErrorRetryInterval: defaultErrorRetryInterval,
			ReaperInterval:     defaultReaperInterval,
			ZombieTTLMinutes:   defaultZombieTTLMinutes,
			MaxAttempts:        defaultMaxAttempts,
		},
		Lanes: Lanes{
			Vault: Lane{
				Enabled:        defaultLaneEnabled,
				BatchSize:      defaultVaultBatchSize,
				Workers:        defaultVaultWorkers,
				PollInterval:   defaultVaultPollInterval,
				Order:          defaultLaneOrder,
				TimeoutSeconds: defaultVaultTimeoutSeconds,
			},
			Factory: Lane{
				Enabled:        defaultLaneEnabled,
				BatchSize:      defaultFactoryBatchSize,
				Workers:        defaultFactoryWorkers,
				PollInterval:   defaultFactoryPollInterval,
				Order:          defaultLaneOrder,
				TimeoutSeconds: defaultFactoryTimeoutSeconds,
			},
			Judge: Lane{
				Enabled:        defaultLaneEnabled,
				BatchSize:      defaultJudgeBatchSize,
				Workers:        defaultJudgeWorkers,
				PollInterval:   defaultJudgePollInterval,
				Order:          defaultLaneOrder,
				TimeoutSeconds: defaultJudgeTimeoutSeconds,
			},
		},
		Breaker: Breaker{
			FailureThreshold: defaultBreakerFailures,
			RecoveryTimeout:  defaultBreakerRecovery,
			SuccessThreshold: defaultBreakerSuccesses,
		},
		Inference: Inference{
			Model:          defaultInferenceModel,
			TimeoutSeconds: defaultInferenceTimeout,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Quality: Quality{
			FlagThreshold:       defaultFlagThreshold,
			MinTranscriptLength: defaultMinTranscriptLength,
			Version:             defaultQualityVersion,
		},
		CallLog: CallLog{
			BaseURL:        defaultCallLogBaseURL,
			PageSize:       defaultCallLogPageSize,
			TimeoutSeconds: defaultCallLogTimeout,
		},
		Ingest: Ingest{
			Enabled:              defaultIngestEnabled,
			SyncInterval:         defaultIngestSyncInterval,
			LookbackMinutes:      defaultIngestLookbackMinutes,
			BackfillChunkHours:   defaultBackfillChunkHours,
			BackfillDelaySeconds: defaultBackfillDelaySeconds,
		},
		Redis: Redis{
			KeyPrefix:  defaultRedisKeyPrefix,
			TTLMinutes: defaultRedisTTLMinutes,
		},
		API: API{
			Enabled: defaultAPIEnabled,
			Bind:    defaultAPIBind,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			DeadLetters:    defaultNotifyDeadLetters,
			Breakers:       defaultNotifyBreakers,
			Backfill:       defaultNotifyBackfill,
		},
		Media: Media{
			MinFreeSpaceMB: defaultMinFreeSpaceMB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
