package preflight

import (
	"context"
	"fmt"
	"strings"

	"callpipe/internal/config"
	"callpipe/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
		CheckFreeSpace("Temp free space", cfg.Paths.TempDir, minFreeBytes(cfg)),
	}

	if cfg.Lanes.Vault.Enabled || cfg.Lanes.Factory.Enabled {
		results = append(results, CheckDirectoryAccess("Blob directory", cfg.Paths.BlobDir))
	}

	if cfg.Lanes.Factory.Enabled {
		for _, status := range CheckSystemDeps(cfg) {
			results = append(results, fromDependency(status))
		}
		results = append(results, CheckInference(ctx, cfg.Inference))
	}

	if cfg.Lanes.Judge.Enabled {
		results = append(results, CheckLLM(ctx, "Quality LLM", cfg.LLM))
	}

	return results
}

// Failures folds failed results into a single error, or nil when every
// check passed.
func Failures(results []Result) error {
	var failures []string
	for _, r := range results {
		if !r.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("preflight checks failed: %s", strings.Join(failures, "; "))
}

func minFreeBytes(cfg *config.Config) uint64 {
	mb := cfg.Media.MinFreeSpaceMB
	if mb <= 0 {
		return 0
	}
	return uint64(mb) << 20
}

func fromDependency(status deps.Status) Result {
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Command}
	}
	return Result{Name: status.Name, Passed: status.Optional, Detail: status.Detail}
}
