package vault_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"callpipe/internal/breaker"
	"callpipe/internal/queue"
	"callpipe/internal/retry"
	"callpipe/internal/services"
	"callpipe/internal/services/blob"
	"callpipe/internal/testsupport"
	"callpipe/internal/vault"
)

func newHandler(t *testing.T, registry *breaker.Registry) (*vault.Handler, *blob.FS) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := blob.NewFS(cfg.Paths.BlobDir)
	if err != nil {
		t.Fatalf("blob.NewFS: %v", err)
	}
	return vault.NewHandler(cfg, store, registry, nil), store
}

func sampleCall(url string) *queue.Call {
	return &queue.Call{
		ID:         "call-1",
		Status:     queue.StatusPending,
		AudioURL:   url,
		ClaimToken: "token",
		CreatedAt:  time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC),
	}
}

func TestStoragePathUsesEventDate(t *testing.T) {
	got := vault.StoragePath(sampleCall(""))
	if got != "2026/03/09/call-1.mp3" {
		t.Fatalf("unexpected storage path %q", got)
	}
}

func TestLaneSpecClaimsPendingBySentinel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(4), testsupport.WithLaneOrder("fifo"))
	spec := vault.LaneSpec(cfg)
	if spec.Source != queue.StatusPending || spec.Mode != queue.ClaimBySentinel {
		t.Fatalf("unexpected lane spec: %+v", spec)
	}
	if !spec.RequireAudioURL || spec.MaxAttempts != 4 || spec.Order != queue.OrderFIFO {
		t.Fatalf("unexpected lane predicates: %+v", spec)
	}
}

func TestProcessStoresRecording(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ID3-audio-bytes"))
	}))
	defer server.Close()

	handler, store := newHandler(t, nil)
	completion, err := handler.Process(context.Background(), sampleCall(server.URL+"/rec.mp3"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if completion.Status != queue.StatusDownloaded {
		t.Fatalf("expected downloaded, got %s", completion.Status)
	}
	if completion.BlobPath != "2026/03/09/call-1.mp3" {
		t.Fatalf("unexpected blob path %q", completion.BlobPath)
	}
	data, err := os.ReadFile(filepath.Join(store.Root(), "2026", "03", "09", "call-1.mp3"))
	if err != nil {
		t.Fatalf("read stored recording: %v", err)
	}
	if string(data) != "ID3-audio-bytes" {
		t.Fatalf("unexpected stored bytes %q", data)
	}
}

func TestProcessPermanentStatusesFailImmediately(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		registry := breaker.NewRegistry(breaker.Settings{FailureThreshold: 1})
		handler, _ := newHandler(t, registry)
		_, err := handler.Process(context.Background(), sampleCall(server.URL))
		server.Close()
		if err == nil {
			t.Fatalf("expected error for HTTP %d", code)
		}
		if kind := retry.KindOf(err); kind != retry.Permanent {
			t.Fatalf("HTTP %d classified as %s", code, kind)
		}
		if state := registry.Get(vault.RecordingsBreaker).State(); state != breaker.StateClosed {
			t.Fatalf("HTTP %d tripped the breaker: %s", code, state)
		}
	}
}

func TestProcessEmptyBodyIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler, _ := newHandler(t, nil)
	_, err := handler.Process(context.Background(), sampleCall(server.URL))
	if err == nil || !services.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestProcessServerErrorIsTransientAndOpensBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	registry := breaker.NewRegistry(breaker.Settings{FailureThreshold: 2, RecoveryTimeout: time.Hour})
	handler, _ := newHandler(t, registry)
	for i := 0; i < 2; i++ {
		_, err := handler.Process(context.Background(), sampleCall(server.URL))
		if kind := retry.KindOf(err); kind != retry.Transient {
			t.Fatalf("attempt %d classified as %s (%v)", i, kind, err)
		}
	}
	_, err := handler.Process(context.Background(), sampleCall(server.URL))
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if kind := retry.KindOf(err); kind != retry.DependencyOutage {
		t.Fatalf("expected dependency outage, got %s", kind)
	}
	health := handler.HealthCheck(context.Background())
	if health.Ready {
		t.Fatal("expected unhealthy lane while recordings circuit is open")
	}
}

func TestProcessRejectsMissingAudioURL(t *testing.T) {
	handler, _ := newHandler(t, nil)
	_, err := handler.Process(context.Background(), sampleCall("  "))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
