package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"callpipe/internal/api"
)

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := ""
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			detail = apiErr.Error
		}
		if resp.StatusCode == http.StatusUnauthorized {
			if detail == "" {
				detail = "no detail"
			}
			return fmt.Errorf("daemon api %s %s: unauthorized (%s); pass --token or set CALLPIPE_TOKEN", method, path, detail)
		}
		if detail != "" {
			return fmt.Errorf("daemon api %s %s: %s (status %d)", method, path, detail, resp.StatusCode)
		}
		return fmt.Errorf("daemon api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func wrapDialError(err error, base string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: %s refused the connection; start it with `callpipe run` and enable [api]", base)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("connect to daemon: %s did not answer in time", base)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}
