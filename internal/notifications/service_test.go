package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventDeadLetter, notifications.Payload{"call": "c1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "dead letter",
			event: notifications.EventDeadLetter,
			payload: notifications.Payload{
				"call":     "call-1",
				"lane":     "vault",
				"attempts": 3,
				"error":    "HTTP 404",
			},
			expectTitle:   "callpipe - Dead Letter",
			expectMessage: "Call call-1 failed in vault after 3 attempt(s)\nHTTP 404",
			expectTags:    "callpipe,dead-letter,vault",
		},
		{
			name:  "breaker opened",
			event: notifications.EventBreakerOpened,
			payload: notifications.Payload{
				"dependency":  "inference",
				"retry_after": 60 * time.Second,
			},
			expectTitle:    "callpipe - Circuit Open",
			expectMessage:  "inference circuit opened; retrying after 1m0s",
			expectTags:     "callpipe,breaker,open",
			expectPriority: "high",
		},
		{
			name:  "backfill with failures",
			event: notifications.EventBackfillCompleted,
			payload: notifications.Payload{
				"range":   "2026-01-01..2026-01-03",
				"windows": 2,
				"failed":  1,
				"calls":   40,
			},
			expectTitle:   "callpipe - Backfill Complete (with errors)",
			expectMessage: "Backfill 2026-01-01..2026-01-03: 2 windows, 1 failed, 40 calls",
			expectTags:    "callpipe,backfill,completed",
		},
		{
			name:  "error",
			event: notifications.EventError,
			payload: notifications.Payload{
				"context": "reaper",
				"error":   "database is locked",
			},
			expectTitle:    "callpipe - Error",
			expectMessage:  "Error in reaper: database is locked",
			expectTags:     "callpipe,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonoursMutedFamilies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for muted event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.DeadLetters = false
	cfg.Notifications.Breakers = false
	cfg.Notifications.Backfill = false

	svc := notifications.NewService(&cfg)
	muted := []notifications.Event{
		notifications.EventDeadLetter,
		notifications.EventBreakerOpened,
		notifications.EventBreakerClosed,
		notifications.EventBackfillCompleted,
		notifications.Event("unknown"),
	}
	for _, event := range muted {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for muted event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
