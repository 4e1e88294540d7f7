package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"callpipe/internal/config"
)

const userAgent = "callpipe/0.1.0"

// Event names a notification type.
type Event string

const (
	EventDeadLetter        Event = "dead_letter"
	EventBreakerOpened     Event = "breaker_opened"
	EventBreakerClosed     Event = "breaker_closed"
	EventBackfillCompleted Event = "backfill_completed"
	EventDaemonStarted     Event = "daemon_started"
	EventError             Event = "error"
	EventTest              Event = "test"
)

// Payload carries event fields. Missing keys render as empty strings.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		muted:    mutedEvents(cfg.Notifications),
	}
}

func mutedEvents(cfg config.Notifications) map[Event]bool {
	muted := map[Event]bool{}
	if !cfg.DeadLetters {
		muted[EventDeadLetter] = true
	}
	if !cfg.Breakers {
		muted[EventBreakerOpened] = true
		muted[EventBreakerClosed] = true
	}
	if !cfg.Backfill {
		muted[EventBackfillCompleted] = true
	}
	return muted
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	muted    map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || n.muted[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	switch event {
	case EventDeadLetter:
		body := fmt.Sprintf("Call %s failed in %s after %s attempt(s)", payload.text("call"), payload.text("lane"), payload.text("attempts"))
		if reason := payload.text("error"); reason != "" {
			body += "\n" + reason
		}
		return message{
			title: "callpipe - Dead Letter",
			body:  body,
			tags:  []string{"callpipe", "dead-letter", payload.text("lane")},
		}, true
	case EventBreakerOpened:
		return message{
			title:    "callpipe - Circuit Open",
			body:     fmt.Sprintf("%s circuit opened; retrying after %s", payload.text("dependency"), payload.text("retry_after")),
			tags:     []string{"callpipe", "breaker", "open"},
			priority: "high",
		}, true
	case EventBreakerClosed:
		return message{
			title: "callpipe - Circuit Closed",
			body:  fmt.Sprintf("%s circuit closed", payload.text("dependency")),
			tags:  []string{"callpipe", "breaker", "closed"},
		}, true
	case EventBackfillCompleted:
		title := "callpipe - Backfill Complete"
		if payload.text("failed") != "0" && payload.text("failed") != "" {
			title = "callpipe - Backfill Complete (with errors)"
		}
		return message{
			title: title,
			body: fmt.Sprintf("Backfill %s: %s windows, %s failed, %s calls",
				payload.text("range"), payload.text("windows"), payload.text("failed"), payload.text("calls")),
			tags: []string{"callpipe", "backfill", "completed"},
		}, true
	case EventDaemonStarted:
		return message{
			title:    "callpipe - Daemon Started",
			body:     fmt.Sprintf("Lanes running: %s", payload.text("lanes")),
			tags:     []string{"callpipe", "daemon"},
			priority: "low",
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("Error")
		if label := payload.text("context"); label != "" {
			builder.WriteString(" in ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if reason := payload.text("error"); reason != "" {
			builder.WriteString(reason)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "callpipe - Error",
			body:     builder.String(),
			tags:     []string{"callpipe", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "callpipe - Test",
			body:     "Notification system test",
			tags:     []string{"callpipe", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case time.Duration:
		return v.Round(time.Second).String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if tags := compactTags(msg.tags); len(tags) > 0 {
		req.Header.Set("Tags", strings.Join(tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func compactTags(tags []string) []string {
	out := tags[:0:0]
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
