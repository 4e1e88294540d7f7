package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"callpipe/internal/config"
	"callpipe/internal/queue"
	"callpipe/internal/stage"
	"callpipe/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	configPath string
}

func setupCLITestEnv(t *testing.T, mutate ...func(*config.Config)) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("CALLPIPE_TOKEN", "")
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.Enabled = false
	cfg.API.Bind = "127.0.0.1:1"
	for _, fn := range mutate {
		fn(cfg)
	}

	configPath := filepath.Join(t.TempDir(), "callpipe.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      testsupport.MustOpenStore(t, cfg),
		configPath: configPath,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath}, args...))
}

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

type idleJudge struct{}

func (idleJudge) Spec() queue.LaneSpec {
	return queue.LaneSpec{Name: "judge", Source: queue.StatusTranscribed, Mode: queue.ClaimBySentinel, RequireUnscored: true}
}

func (idleJudge) Process(context.Context, *queue.Call) (queue.Completion, error) {
	return queue.Completion{Status: queue.StatusSafe}, nil
}

func (idleJudge) HealthCheck(context.Context) stage.Health { return stage.Healthy("judge") }
