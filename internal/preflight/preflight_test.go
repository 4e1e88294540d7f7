package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"callpipe/internal/config"
	"callpipe/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("scratch", dir, 0); !result.Passed {
		t.Fatalf("expected pass with zero minimum, got: %s", result.Detail)
	}
	result := CheckFreeSpace("scratch", dir, 1<<62)
	if result.Passed {
		t.Fatal("expected failure for an impossible minimum")
	}
	if !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected shortfall in detail, got %q", result.Detail)
	}
	if result := CheckFreeSpace("scratch", filepath.Join(dir, "missing"), 0); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckInference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if result := CheckInference(context.Background(), config.Inference{BaseURL: srv.URL}); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	result := CheckInference(context.Background(), config.Inference{BaseURL: down.URL})
	if result.Passed || !strings.Contains(result.Detail, "503") {
		t.Fatalf("expected 503 failure, got %+v", result)
	}

	if result := CheckInference(context.Background(), config.Inference{}); result.Passed {
		t.Fatal("expected failure without base url")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "Quality LLM", config.LLM{})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_VaultOnly(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.TempDir = t.TempDir()
	cfg.Paths.BlobDir = t.TempDir()
	cfg.Media.MinFreeSpaceMB = 0
	cfg.Lanes.Factory.Enabled = false
	cfg.Lanes.Judge.Enabled = false

	results := RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d: %+v", len(results), results)
	}
	if err := Failures(results); err != nil {
		t.Fatalf("unexpected failures: %v", err)
	}
}

func TestRunAll_FactoryChecksBinariesAndInference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.TempDir = t.TempDir()
	cfg.Paths.BlobDir = t.TempDir()
	cfg.Media.MinFreeSpaceMB = 0
	cfg.Media.FFmpegBinary = "clearly-not-present-ffmpeg"
	cfg.Media.FFprobeBinary = "clearly-not-present-ffprobe"
	cfg.Inference.BaseURL = srv.URL
	cfg.Lanes.Judge.Enabled = false

	results := RunAll(context.Background(), &cfg)
	err := Failures(results)
	if err == nil {
		t.Fatal("expected missing binaries to fail")
	}
	if !strings.Contains(err.Error(), "FFmpeg") || !strings.Contains(err.Error(), "FFprobe") {
		t.Fatalf("expected both binaries reported, got %v", err)
	}
	if strings.Contains(err.Error(), "Inference") {
		t.Fatalf("inference should pass, got %v", err)
	}
}

func TestCheckDatabase(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	result := CheckDatabase(context.Background(), store)
	if !result.Passed {
		t.Fatalf("expected healthy database, got %s", result.Detail)
	}
	if result := CheckDatabase(context.Background(), nil); result.Passed {
		t.Fatal("expected failure for nil store")
	}
}

func TestCheckCallLogFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ingest.Enabled = true
	cfg.CallLog.AccountID = ""
	if result := CheckCallLogFromConfig(&cfg); result.Passed {
		t.Fatal("expected failure without account id")
	}
	cfg.CallLog.AccountID = "acct"
	cfg.CallLog.Token = "tok"
	if result := CheckCallLogFromConfig(&cfg); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	cfg.Ingest.Enabled = false
	cfg.CallLog.Token = ""
	if result := CheckCallLogFromConfig(&cfg); !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("expected disabled pass, got %+v", result)
	}
}

func TestCheckRedisFromConfig_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.URL = ""
	if result := CheckRedisFromConfig(context.Background(), &cfg); !result.Passed {
		t.Fatalf("expected pass when disabled, got %s", result.Detail)
	}
	cfg.Redis.URL = "not-a-url://"
	if result := CheckRedisFromConfig(context.Background(), &cfg); result.Passed {
		t.Fatal("expected invalid url to fail")
	}
}
