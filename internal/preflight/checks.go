package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"callpipe/internal/config"
	"callpipe/internal/deps"
	"callpipe/internal/retry"
	"callpipe/internal/services"
	"callpipe/internal/services/inference"
	"callpipe/internal/services/llm"
)

const (
	llmCheckTimeout       = 30 * time.Second
	inferenceCheckTimeout = 5 * time.Second
)

// singleAttempt disables client retries so a dead service fails fast.
var singleAttempt = retry.Policy{MaxAttempts: 1}

// CheckLLM verifies that the LLM API is reachable and the key is valid.
func CheckLLM(ctx context.Context, name string, cfg config.LLM) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, llmCheckTimeout)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	}, llm.WithRetryPolicy(singleAttempt))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeError("LLM API", err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckInference verifies the speech service answers its health endpoint.
func CheckInference(ctx context.Context, cfg config.Inference) Result {
	const name = "Inference service"

	client, err := inference.New(inference.Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		TimeoutSeconds: int(inferenceCheckTimeout / time.Second),
	}, inference.WithRetryPolicy(singleAttempt))
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, inferenceCheckTimeout)
	defer cancel()
	if err := client.HealthCheck(checkCtx); err != nil {
		var statusErr *services.HTTPStatusError
		if errors.As(err, &statusErr) {
			return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", statusErr.StatusCode)}
		}
		return Result{Name: name, Detail: summarizeError("inference service", err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minBytes
// available to unprivileged users. A zero minimum only reports the figure.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := uint64(stat.Bavail) * uint64(stat.Bsize)
	detail := fmt.Sprintf("%s (%s free)", path, formatBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s; need %s", detail, formatBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps evaluates the external binaries the factory lane needs.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.MediaRequirements(cfg.FFmpegBinary(), cfg.FFprobeBinary()))
}

func summarizeError(label string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("health check timed out (%s unresponsive)", label)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("health check timed out (%s unreachable)", label)
	}
	return err.Error()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
