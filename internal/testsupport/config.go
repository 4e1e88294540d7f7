package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"callpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.BlobDir = filepath.Join(base, "blobs")
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Database.Driver = "sqlite"
	cfgVal.Database.DSN = ""
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Inference.BaseURL = "http://127.0.0.1:0"
	cfgVal.LLM.APIKey = "test"
	cfgVal.CallLog.Token = "test"
	cfgVal.CallLog.AccountID = "acct"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxAttempts overrides the retry ceiling on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxAttempts = n
	}
}

// WithLaneOrder sets the ordering of every lane.
func WithLaneOrder(order string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Lanes.Vault.Order = order
		b.cfg.Lanes.Factory.Order = order
		b.cfg.Lanes.Judge.Order = order
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}
