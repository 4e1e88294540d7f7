package workflow_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/notifications"
	"callpipe/internal/queue"
	"callpipe/internal/stage"
	"callpipe/internal/testsupport"
)

type stubHandler struct {
	spec    queue.LaneSpec
	process func(context.Context, *queue.Call) (queue.Completion, error)
	health  stage.Health

	mu    sync.Mutex
	calls []string
}

func newStubHandler(spec queue.LaneSpec, process func(context.Context, *queue.Call) (queue.Completion, error)) *stubHandler {
	return &stubHandler{spec: spec, process: process, health: stage.Healthy(spec.Name)}
}

func (s *stubHandler) Spec() queue.LaneSpec { return s.spec }

func (s *stubHandler) Process(ctx context.Context, call *queue.Call) (queue.Completion, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call.ID)
	s.mu.Unlock()
	return s.process(ctx, call)
}

func (s *stubHandler) HealthCheck(context.Context) stage.Health { return s.health }

func (s *stubHandler) invocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordedEvent struct {
	event   notifications.Event
	payload notifications.Payload
}

type stubNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{event: event, payload: payload})
	return nil
}

func (s *stubNotifier) count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (s *stubNotifier) first(event notifications.Event) (notifications.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.event == event {
			return e.payload, true
		}
	}
	return nil, false
}

func testConfig(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	for _, lane := range []*config.Lane{&cfg.Lanes.Vault, &cfg.Lanes.Factory, &cfg.Lanes.Judge} {
		lane.Enabled = true
		lane.BatchSize = 2
		lane.Workers = 2
		lane.PollInterval = 0
		lane.TimeoutSeconds = 5
	}
	cfg.Workflow.ErrorRetryInterval = 0
	cfg.Workflow.ReaperInterval = 3600
	return cfg
}

func vaultSpec() queue.LaneSpec {
	return queue.LaneSpec{Name: "vault", Source: queue.StatusPending, Mode: queue.ClaimBySentinel, RequireAudioURL: true}
}

func factorySpec(maxAttempts int) queue.LaneSpec {
	return queue.LaneSpec{
		Name:        "factory",
		Source:      queue.StatusDownloaded,
		Mode:        queue.ClaimByStatus,
		InProgress:  queue.StatusProcessing,
		MaxAttempts: maxAttempts,
	}
}

func judgeSpec() queue.LaneSpec {
	return queue.LaneSpec{Name: "judge", Source: queue.StatusTranscribed, Mode: queue.ClaimBySentinel, RequireUnscored: true}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
