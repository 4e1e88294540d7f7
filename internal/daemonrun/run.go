package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"callpipe/internal/breaker"
	"callpipe/internal/config"
	"callpipe/internal/daemon"
	"callpipe/internal/ingest"
	"callpipe/internal/logging"
	"callpipe/internal/notifications"
	"callpipe/internal/queue"
	"callpipe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Diagnostic mirrors every record into a JSON file under log_dir/debug.
	Diagnostic bool
}

// Run starts the callpipe daemon and blocks until the context is cancelled
// or the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("callpipe-%s.log", runID))
	logHub := logging.NewStreamHub(4096)

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		Stream:           logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.Diagnostic {
		debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugPath := filepath.Join(debugDir, fmt.Sprintf("callpipe-%s.jsonl", runID))
		handler, closeDebug, debugErr := logging.NewJSONFileHandler(debugPath, "debug")
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			defer closeDebug()
			logger = logging.TeeLogger(logger, handler)
			logger.Info("diagnostic mode enabled",
				logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
				logging.String("debug_log_path", debugPath),
			)
		}
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update callpipe.log link: %v\n", err)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "callpipe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	notifier := notifications.NewService(cfg)
	breakers := breaker.NewRegistry(BreakerSettings(cfg),
		breaker.WithLogger(logger),
		breaker.WithStateChange(workflow.BreakerStateNotifier(notifier, logger, BreakerSettings(cfg).RecoveryTimeout)),
	)

	rt, err := buildRuntime(signalCtx, cfg, breakers, logger)
	if err != nil {
		logger.Error("build lane runtime",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_build_failed"),
			logging.String(logging.FieldErrorHint, "check service credentials and blob_dir"),
		)
		return err
	}
	defer rt.close()

	manager := workflow.NewManagerWithNotifier(cfg, store, logger, notifier, workflow.WithBreakers(breakers))
	manager.ConfigureLanes(rt.lanes)
	if err := manager.Preflight(signalCtx); err != nil {
		logger.Warn("preflight reported problems",
			logging.Error(err),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldImpact, "affected lanes will fail or release their calls"),
		)
	}

	daemonOpts := []daemon.Option{
		daemon.WithBreakers(breakers),
		daemon.WithLogStream(logHub),
		daemon.WithNotifier(notifier),
	}
	if cfg.Ingest.Enabled {
		syncer, err := NewSyncer(signalCtx, cfg, store, logger)
		if err != nil {
			logger.Warn("live ingestion disabled",
				logging.Error(err),
				logging.String(logging.FieldEventType, "ingest_unavailable"),
				logging.String(logging.FieldErrorHint, "check [calllog] credentials"),
				logging.String(logging.FieldImpact, "new calls will not be ingested"),
			)
		} else {
			daemonOpts = append(daemonOpts, daemon.WithSyncer(syncer))
		}
	}

	d, err := daemon.New(cfg, store, logger, manager, daemonOpts...)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check for another running daemon and queue database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("callpipe daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// BreakerSettings converts the [breaker] config section.
func BreakerSettings(cfg *config.Config) breaker.Settings {
	return breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeout) * time.Second,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}
}

// NewSyncer wires the call-log client and campaign cache into an ingestion
// syncer. The CLI backfill command shares it with the daemon.
func NewSyncer(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*ingest.Syncer, error) {
	source, err := newCallLogClient(cfg)
	if err != nil {
		return nil, err
	}
	return ingest.NewSyncer(store, source, newCampaignCache(ctx, cfg, logger), logger), nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "callpipe.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
