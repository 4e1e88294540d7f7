package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"callpipe/internal/breaker"
	"callpipe/internal/config"
	"callpipe/internal/logging"
	"callpipe/internal/queue"
	"callpipe/internal/services"
	"callpipe/internal/stage"
)

const (
	// LaneName identifies the vault lane in logs, breakers, and status output.
	LaneName = "vault"
	// RecordingsBreaker guards the recording host.
	RecordingsBreaker = "recordings"
	// BlobBreaker guards the blob store.
	BlobBreaker = "blob"

	// DefaultDownloadTimeout bounds a single recording download.
	DefaultDownloadTimeout = 60 * time.Second
	// MaxRecordingBytes caps how much of a response body is buffered.
	MaxRecordingBytes = 256 << 20
)

// Option customizes a Handler.
type Option func(*Handler)

// WithHTTPClient overrides the client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		if client != nil {
			h.client = client
		}
	}
}

// Handler downloads call recordings into durable storage.
type Handler struct {
	spec     queue.LaneSpec
	blobs    services.BlobStore
	breakers *breaker.Registry
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// LaneSpec returns the claim rules for the vault lane.
func LaneSpec(cfg *config.Config) queue.LaneSpec {
	return queue.LaneSpec{
		Name:            LaneName,
		Source:          queue.StatusPending,
		Mode:            queue.ClaimBySentinel,
		Order:           queue.ParseOrder(cfg.Lanes.Vault.Order),
		MaxAttempts:     cfg.Workflow.MaxAttempts,
		RequireAudioURL: true,
	}
}

// NewHandler constructs the vault lane handler.
func NewHandler(cfg *config.Config, blobs services.BlobStore, breakers *breaker.Registry, logger *slog.Logger, opts ...Option) *Handler {
	timeout := DefaultDownloadTimeout
	if cfg.Lanes.Vault.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Lanes.Vault.TimeoutSeconds) * time.Second
	}
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.DefaultSettings())
	}
	h := &Handler{
		spec:     LaneSpec(cfg),
		blobs:    blobs,
		breakers: breakers,
		client:   &http.Client{},
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, LaneName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Spec returns the lane claim rules.
func (h *Handler) Spec() queue.LaneSpec {
	return h.spec
}

// StoragePath returns the blob location for a call's recording.
func StoragePath(call *queue.Call) string {
	created := call.CreatedAt.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return path.Join(created.Format("2006/01/02"), call.ID+".mp3")
}

// Process downloads the recording and uploads it to the blob store.
func (h *Handler) Process(ctx context.Context, call *queue.Call) (queue.Completion, error) {
	logger := logging.WithContext(ctx, h.logger)
	audioURL := strings.TrimSpace(call.AudioURL)
	if audioURL == "" {
		return queue.Completion{}, services.Wrap(services.ErrValidation, LaneName, "download", "no audio url", nil)
	}
	if h.blobs == nil {
		return queue.Completion{}, services.Wrap(services.ErrConfiguration, LaneName, "upload", "blob store not configured", nil)
	}

	data, err := h.download(ctx, audioURL)
	if err != nil {
		return queue.Completion{}, err
	}

	dest := StoragePath(call)
	err = h.breakers.Get(BlobBreaker).Execute(ctx, func(ctx context.Context) error {
		return h.blobs.Upload(ctx, dest, bytes.NewReader(data))
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return queue.Completion{}, err
		}
		return queue.Completion{}, services.Wrap(services.ErrTransient, LaneName, "upload", "store recording", err)
	}

	logger.Info("recording stored",
		logging.String("blob_path", dest),
		logging.Int("bytes", len(data)),
	)
	return queue.Completion{Status: queue.StatusDownloaded, BlobPath: dest}, nil
}

// download fetches the recording through the recordings breaker. Permanent
// outcomes are returned without being recorded as breaker failures.
func (h *Handler) download(ctx context.Context, audioURL string) ([]byte, error) {
	var data []byte
	err := h.breakers.Get(RecordingsBreaker).ExecuteIgnoring(ctx, services.IsPermanent, func(ctx context.Context) error {
		body, err := h.fetch(ctx, audioURL)
		if err != nil {
			return err
		}
		data = body
		return nil
	})
	switch {
	case err == nil:
		return data, nil
	case services.IsPermanent(err), errors.Is(err, breaker.ErrOpen):
		return nil, err
	default:
		return nil, services.Wrap(services.ErrTransient, LaneName, "download", "fetch recording", err)
	}
}

func (h *Handler) fetch(ctx context.Context, audioURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, LaneName, "download", "invalid audio url", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, services.Wrap(services.ErrTimeout, LaneName, "download", fmt.Sprintf("timed out after %s", h.timeout), err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &services.HTTPStatusError{Service: RecordingsBreaker, StatusCode: resp.StatusCode, Body: string(body), Resource: true}
	}
	if resp.ContentLength == 0 {
		return nil, services.Wrap(services.ErrPermanent, LaneName, "download", "empty audio (Content-Length: 0)", nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxRecordingBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrPermanent, LaneName, "download", "empty audio body", nil)
	}
	if len(data) > MaxRecordingBytes {
		return nil, services.Wrap(services.ErrPermanent, LaneName, "download", fmt.Sprintf("recording exceeds %d bytes", MaxRecordingBytes), nil)
	}
	return data, nil
}

// HealthCheck reports whether the lane has somewhere to store recordings.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.blobs == nil {
		return stage.Unhealthy(LaneName, "blob store not configured")
	}
	if state := h.breakers.Get(RecordingsBreaker).State(); state == breaker.StateOpen {
		return stage.Unhealthy(LaneName, "recordings circuit open")
	}
	return stage.Healthy(LaneName)
}
