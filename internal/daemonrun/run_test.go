package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"callpipe/internal/breaker"
	"callpipe/internal/ingest"
	"callpipe/internal/logging"
	"callpipe/internal/testsupport"
)

func TestBreakerSettingsFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Breaker.FailureThreshold = 7
	cfg.Breaker.RecoveryTimeout = 90
	cfg.Breaker.SuccessThreshold = 3

	got := BreakerSettings(cfg)
	if got.FailureThreshold != 7 || got.SuccessThreshold != 3 || got.RecoveryTimeout != 90*time.Second {
		t.Fatalf("unexpected settings %+v", got)
	}
}

func TestBuildRuntimeOnlyBuildsEnabledLanes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Lanes.Vault.Enabled = false
	cfg.Lanes.Factory.Enabled = false
	cfg.Lanes.Judge.Enabled = true

	rt, err := buildRuntime(context.Background(), cfg, breaker.NewRegistry(breaker.DefaultSettings()), logging.NewNop())
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer rt.close()

	if rt.lanes.Vault != nil || rt.lanes.Factory != nil {
		t.Fatal("expected disabled lanes to have no handler")
	}
	if rt.lanes.Judge == nil {
		t.Fatal("expected judge handler")
	}
	if rt.rules == nil || rt.rules.Version() == "" {
		t.Fatal("expected built-in rule set to be loaded")
	}
	if _, err := os.Stat(cfg.Paths.BlobDir); !os.IsNotExist(err) {
		t.Fatalf("expected blob dir to stay untouched, stat err=%v", err)
	}
}

func TestBuildRuntimeCreatesBlobStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Lanes.Judge.Enabled = false

	rt, err := buildRuntime(context.Background(), cfg, breaker.NewRegistry(breaker.DefaultSettings()), logging.NewNop())
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	defer rt.close()

	if rt.lanes.Vault == nil || rt.lanes.Factory == nil {
		t.Fatal("expected vault and factory handlers")
	}
	if info, err := os.Stat(cfg.Paths.BlobDir); err != nil || !info.IsDir() {
		t.Fatalf("expected blob dir to be created: %v", err)
	}
}

func TestBuildRuntimeRejectsBadRulesFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(":: not yaml ["), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	cfg.Quality.RulesPath = path

	if _, err := buildRuntime(context.Background(), cfg, breaker.NewRegistry(breaker.DefaultSettings()), logging.NewNop()); err == nil {
		t.Fatal("expected invalid rules file to fail")
	}
}

func TestCampaignCacheFallsBackToMemory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, ok := newCampaignCache(context.Background(), cfg, logging.NewNop()).(*ingest.MemoryCache); !ok {
		t.Fatal("expected memory cache without redis url")
	}
	cfg.Redis.URL = "redis://127.0.0.1:1/0"
	if _, ok := newCampaignCache(context.Background(), cfg, logging.NewNop()).(*ingest.MemoryCache); !ok {
		t.Fatal("expected memory cache when redis is unreachable")
	}
}

func TestPIDFileAndLogPointer(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "callpipe.pid")
	if err := writePIDFile(pidPath); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(pidPath)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file %q", data)
	}

	target := filepath.Join(dir, "callpipe-run.log")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}
	for range 2 {
		if err := ensureCurrentLogPointer(dir, target); err != nil {
			t.Fatalf("ensureCurrentLogPointer: %v", err)
		}
	}
	got, err := os.ReadFile(filepath.Join(dir, "callpipe.log"))
	if err != nil || string(got) != "x" {
		t.Fatalf("expected pointer to target, got %q err=%v", got, err)
	}
}
