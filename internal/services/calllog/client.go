// Package calllog fetches call metadata from the call-tracking API.
//
// Reports are requested per time window and paged with offset/size. Paging
// stops on an empty page, a partial result, or a page shorter than the page
// size. Authentication failures are configuration errors: retrying with the
// same token cannot succeed.
package calllog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callpipe/internal/retry"
	"callpipe/internal/services"
)

const (
	serviceName        = "calllog"
	defaultPageSize    = 1000
	defaultHTTPTimeout = 30 * time.Second
)

var valueColumns = []map[string]string{
	{"column": "inboundCallId"},
	{"column": "callDt"},
	{"column": "callLengthInSeconds"},
	{"column": "inboundPhoneNumber"},
	{"column": "recordingUrl"},
	{"column": "campaignId"},
	{"column": "campaignName"},
	{"column": "conversionAmount"},
}

// Config holds API credentials and paging settings.
type Config struct {
	BaseURL        string
	AccountID      string
	Token          string
	PageSize       int
	TimeoutSeconds int
}

// Client implements services.MetadataSource.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	policy     retry.Policy
	now        func() time.Time
}

var _ services.MetadataSource = (*Client)(nil)

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

// WithRetryPolicy overrides the per-page retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *Client) {
		if policy.Retryable == nil {
			policy.Retryable = retryable
		}
		c.policy = policy
	}
}

// New validates credentials and returns a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.AccountID = strings.TrimSpace(cfg.AccountID)
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.AccountID == "" || cfg.Token == "" {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "init", "account id and token are required", nil)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	endpoint, err := url.JoinPath(strings.TrimSpace(cfg.BaseURL), cfg.AccountID, "calllogs")
	if err != nil {
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
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type reportRequest struct {
	ReportStart  string              `json:"reportStart"`
	ReportEnd    string              `json:"reportEnd"`
	Size         int                 `json:"size"`
	Offset       int                 `json:"offset"`
	ValueColumns []map[string]string `json:"valueColumns"`
}

type reportResponse struct {
	Report struct {
		Records       []record `json:"records"`
		PartialResult bool     `json:"partialResult"`
	} `json:"report"`
}

// Fetch returns every call record in [start, end).
func (c *Client) Fetch(ctx context.Context, start, end time.Time) ([]services.CallRecord, error) {
	if !end.After(start) {
		return nil, services.Wrap(services.ErrValidation, serviceName, "fetch", "end must be after start", nil)
	}
	var out []services.CallRecord
	for offset := 0; ; offset += c.cfg.PageSize {
		page, err := c.fetchPage(ctx, reportRequest{
			ReportStart:  start.UTC().Format(time.RFC3339),
			ReportEnd:    end.UTC().Format(time.RFC3339),
			Size:         c.cfg.PageSize,
			Offset:       offset,
			ValueColumns: valueColumns,
		})
		if err != nil {
			return nil, err
		}
		records := page.Report.Records
		if len(records) == 0 || page.Report.PartialResult {
			break
		}
		for _, r := range records {
			if rec, ok := r.toCallRecord(c.now); ok {
				out = append(out, rec)
			}
		}
		if len(records) < c.cfg.PageSize {
			break
		}
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, payload reportRequest) (reportResponse, error) {
	var page reportResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return page, fmt.Errorf("calllog: encode request: %w", err)
	}
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Token "+c.cfg.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return services.Wrap(services.ErrTransient, serviceName, "fetch", "request failed", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return services.Wrap(services.ErrTransient, serviceName, "fetch", "read body", err)
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, serviceName, "fetch", "invalid credentials",
				&services.HTTPStatusError{Service: serviceName, StatusCode: resp.StatusCode, Body: string(body)})
		case resp.StatusCode >= http.StatusMultipleChoices:
			return &services.HTTPStatusError{Service: serviceName, StatusCode: resp.StatusCode, Body: string(body)}
		}
		page = reportResponse{}
		if err := json.Unmarshal(body, &page); err != nil {
			return services.Wrap(services.ErrTransient, serviceName, "fetch", "decode response", err)
		}
		return nil
	})
	return page, err
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, services.ErrConfiguration) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *services.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return errors.Is(err, services.ErrTransient)
}

type record struct {
	InboundCallID       string          `json:"inboundCallId"`
	CallDt              json.RawMessage `json:"callDt"`
	CallLengthInSeconds *json.Number    `json:"callLengthInSeconds"`
	InboundPhoneNumber  string          `json:"inboundPhoneNumber"`
	RecordingURL        string          `json:"recordingUrl"`
	CampaignID          string          `json:"campaignId"`
	CampaignName        string          `json:"campaignName"`
	ConversionAmount    *json.Number    `json:"conversionAmount"`
}

func (r record) toCallRecord(now func() time.Time) (services.CallRecord, bool) {
	id := strings.TrimSpace(r.InboundCallID)
	if id == "" {
		return services.CallRecord{}, false
	}
	rec := services.CallRecord{
		ExternalID:         id,
		CampaignExternalID: strings.TrimSpace(r.CampaignID),
		CampaignName:       strings.TrimSpace(r.CampaignName),
		CallerNumber:       strings.TrimSpace(r.InboundPhoneNumber),
		AudioURL:           strings.TrimSpace(r.RecordingURL),
		StartedAt:          parseCallTime(r.CallDt, now),
	}
	if r.CallLengthInSeconds != nil {
		if f, err := r.CallLengthInSeconds.Float64(); err == nil && f >= 0 {
			seconds := int(math.Round(f))
			rec.DurationSeconds = &seconds
		}
	}
	if r.ConversionAmount != nil {
		if f, err := r.ConversionAmount.Float64(); err == nil {
			rec.Revenue = f
		}
	}
	return rec, true
}

// parseCallTime accepts epoch milliseconds or an RFC 3339 string and falls
// back to now when neither parses.
func parseCallTime(raw json.RawMessage, now func() time.Time) time.Time {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return now().UTC()
	}
	if ms, err := strconv.ParseFloat(value, 64); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, strings.TrimSpace(text)); err == nil {
				return t.UTC()
			}
		}
	}
	return now().UTC()
}
