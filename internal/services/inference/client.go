// Package inference is the HTTP adapter for the speech service that
// transcribes and diarizes call audio.
//
// The service has shipped several response layouts over time. All of them
// are normalized here so nothing outside this package sees the difference:
//
//	transcription: {"text"}, {"transcript"}, {"hypotheses":[{"text"}]}, or a bare JSON string
//	diarization:   {"segments":[...]}, {"speaker_diarization":{"tracks":[...]}}, or a bare array
//
// Segment entries may name the speaker "speaker" or "label".
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"callpipe/internal/retry"
	"callpipe/internal/services"
)

const (
	serviceName        = "inference"
	defaultHTTPTimeout = 15 * time.Minute
	transcribePath     = "v1/transcribe"
	diarizePath        = "v1/diarize"
)

// Config holds the speech service connection settings.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// Client calls the speech service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	policy     retry.Policy
}

var _ services.Inference = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *Client) {
		if policy.Retryable == nil {
			policy.Retryable = retryable
		}
		c.policy = policy
	}
}

// New validates cfg and returns a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "init", "base url required", nil)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "init", "invalid base url", err)
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	policy := retry.DefaultPolicy()
	policy.Retryable = retryable
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Transcribe returns the transcript text for audio.
func (c *Client) Transcribe(ctx context.Context, audio services.Audio) (string, error) {
	body, err := c.post(ctx, transcribePath, audio)
	if err != nil {
		return "", err
	}
	text, err := parseTranscript(body)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, serviceName, "transcribe", "decode response", err)
	}
	return text, nil
}

// Diarize returns speaker turns for audio in seconds from its start.
func (c *Client) Diarize(ctx context.Context, audio services.Audio) ([]services.Segment, error) {
	body, err := c.post(ctx, diarizePath, audio)
	if err != nil {
		return nil, err
	}
	segments, err := parseSegments(body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, serviceName, "diarize", "decode response", err)
	}
	return segments, nil
}

// HealthCheck probes the service health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "health")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, serviceName, "health", "request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &services.HTTPStatusError{Service: serviceName, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, audio services.Audio) ([]byte, error) {
	if strings.TrimSpace(audio.Path) == "" {
		return nil, services.Wrap(services.ErrValidation, serviceName, path, "audio path required", nil)
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, path, "build url", err)
	}
	var body []byte
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		payload, contentType, err := c.encodeAudio(audio)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		c.authorize(req)
		if requestID, ok := services.RequestIDFromContext(ctx); ok {
			req.Header.Set("X-Request-ID", requestID)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return services.Wrap(services.ErrTransient, serviceName, path, "request failed", err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return services.Wrap(services.ErrTransient, serviceName, path, "read body", err)
		}
		if resp.StatusCode >= http.StatusMultipleChoices {
			statusErr := &services.HTTPStatusError{Service: serviceName, StatusCode: resp.StatusCode, Body: string(data)}
			if rejectsAudio(resp.StatusCode) {
				return services.Wrap(services.ErrValidation, serviceName, path, "audio rejected", statusErr)
			}
			return statusErr
		}
		body = data
		return nil
	})
	return body, err
}

func (c *Client) authorize(req *http.Request) {
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

func (c *Client) encodeAudio(audio services.Audio) (io.Reader, string, error) {
	file, err := os.Open(audio.Path)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, serviceName, "encode", "open audio", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if c.cfg.Model != "" {
		if err := writer.WriteField("model", c.cfg.Model); err != nil {
			return nil, "", err
		}
	}
	if audio.DurationSeconds > 0 {
		if err := writer.WriteField("duration", fmt.Sprintf("%.3f", audio.DurationSeconds)); err != nil {
			return nil, "", err
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(audio.Path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", services.Wrap(services.ErrTransient, serviceName, "encode", "read audio", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// rejectsAudio reports whether the service refused the recording itself
// rather than the request.
func rejectsAudio(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *services.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return errors.Is(err, services.ErrTransient)
}
