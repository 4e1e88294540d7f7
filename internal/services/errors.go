package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrPermanent     = errors.New("permanent failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later retry classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsPermanent reports whether retrying err can never succeed for this call.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Permanent()
	}
	return false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// IsConfiguration reports whether err means the daemon itself is
// misconfigured: missing settings, or a collaborator API rejecting its
// credentials or endpoint. No call can make progress until an operator acts.
func IsConfiguration(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConfiguration) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Misconfigured()
	}
	return false
}

// permanentStatusCodes lists resource responses that will not change on retry.
var permanentStatusCodes = map[int]struct{}{
	http.StatusUnauthorized: {},
	http.StatusForbidden:    {},
	http.StatusNotFound:     {},
	http.StatusGone:         {},
}

// HTTPStatusError reports a non-2xx response from an external collaborator.
type HTTPStatusError struct {
	Service    string
	StatusCode int
	Body       string
	// Resource marks a fetch of the call's own data, such as its recording
	// URL, rather than a request to a collaborator API.
	Resource bool
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, body)
}

// Permanent reports whether a resource fetch failed with 401, 403, 404, or
// 410. Collaborator API responses are never permanent for a single call.
func (e *HTTPStatusError) Permanent() bool {
	if e == nil || !e.Resource {
		return false
	}
	_, ok := permanentStatusCodes[e.StatusCode]
	return ok
}

// Misconfigured reports whether a collaborator API refused the daemon's
// credentials (401, 403) or does not serve the configured endpoint (404).
func (e *HTTPStatusError) Misconfigured() bool {
	if e == nil || e.Resource {
		return false
	}
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// Retryable reports whether the response indicates a transient upstream fault.
func (e *HTTPStatusError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}
