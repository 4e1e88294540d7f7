package judge_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"callpipe/internal/breaker"
	"callpipe/internal/judge"
	"callpipe/internal/queue"
	"callpipe/internal/retry"
	"callpipe/internal/services"
	"callpipe/internal/services/rules"
	"callpipe/internal/testsupport"
)

type fakeAnalyzer struct {
	calls  int
	input  services.QualityInput
	result services.QualityResult
	err    error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, input services.QualityInput) (services.QualityResult, error) {
	f.calls++
	f.input = input
	return f.result, f.err
}

func (f *fakeAnalyzer) Model() string { return "gpt-test" }

const longTranscript = "Thanks for calling, this is Dana with Acme Health. How can I help you today?"

func newHandler(t *testing.T, analyzer services.QualityAnalyzer) *judge.Handler {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := rules.NewStore("", nil)
	if err != nil {
		t.Fatalf("rules.NewStore: %v", err)
	}
	return judge.NewHandler(cfg, analyzer, store, breaker.NewRegistry(breaker.Settings{FailureThreshold: 1}), nil)
}

func transcribedCall(text string) *queue.Call {
	return &queue.Call{
		ID:             "call-1",
		Status:         queue.StatusTranscribed,
		ClaimToken:     "token",
		CampaignName:   "Medicare",
		TranscriptText: text,
		DiarizationSegments: `[{"speaker":"SPEAKER_00","start":0,"end":6,"text":"thanks for calling"},` +
			`{"speaker":"SPEAKER_01","start":6,"end":8,"text":"hi"}]`,
	}
}

func TestLaneSpecRequiresUnscoredTranscripts(t *testing.T) {
	spec := judge.LaneSpec(testsupport.NewConfig(t))
	if spec.Source != queue.StatusTranscribed || spec.Mode != queue.ClaimBySentinel || !spec.RequireUnscored {
		t.Fatalf("unexpected lane spec: %+v", spec)
	}
}

func TestShortTranscriptIsSkippedAsSafe(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	handler := newHandler(t, analyzer)

	completion, err := handler.Process(context.Background(), transcribedCall("  too short  "))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if analyzer.calls != 0 {
		t.Fatal("analyzer must not run for short transcripts")
	}
	if completion.Status != queue.StatusSafe || completion.JudgeModel != judge.SkippedModel {
		t.Fatalf("unexpected completion: %+v", completion)
	}
	if string(completion.QualityFlags) != `{"skipped":true,"reason":"transcript_too_short"}` {
		t.Fatalf("unexpected skip payload %s", completion.QualityFlags)
	}
	if completion.QualityVersion != "v1" {
		t.Fatalf("expected quality version v1, got %q", completion.QualityVersion)
	}
}

func TestDisposition(t *testing.T) {
	handler := newHandler(t, &fakeAnalyzer{})
	tests := []struct {
		name   string
		result services.QualityResult
		want   queue.Status
	}{
		{name: "good score", result: services.QualityResult{Score: 85}, want: queue.StatusSafe},
		{name: "threshold is safe", result: services.QualityResult{Score: 70}, want: queue.StatusSafe},
		{name: "low score", result: services.QualityResult{Score: 65}, want: queue.StatusFlagged},
		{name: "analyzer flagged", result: services.QualityResult{Score: 95, Flagged: true}, want: queue.StatusFlagged},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := handler.Disposition(tc.result); got != tc.want {
				t.Fatalf("Disposition = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestProcessScoresWithCampaignRulesAndSpeakers(t *testing.T) {
	analyzer := &fakeAnalyzer{result: services.QualityResult{Score: 62, Summary: "missing disclosure"}}
	handler := newHandler(t, analyzer)

	completion, err := handler.Process(context.Background(), transcribedCall(longTranscript))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if completion.Status != queue.StatusFlagged {
		t.Fatalf("expected flagged, got %s", completion.Status)
	}
	if completion.JudgeModel != "gpt-test" {
		t.Fatalf("expected analyzer model, got %q", completion.JudgeModel)
	}
	if analyzer.input.Campaign != "Medicare" || len(analyzer.input.Rules) != 4 {
		t.Fatalf("unexpected analyzer input: %+v", analyzer.input)
	}
	if len(analyzer.input.Segments) != 2 {
		t.Fatalf("expected segments passed to analyzer, got %+v", analyzer.input.Segments)
	}

	var verdict judge.Verdict
	if err := json.Unmarshal(completion.QualityFlags, &verdict); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if verdict.Score != 62 || verdict.Disposition != queue.StatusFlagged {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if verdict.RulesVersion != "builtin" {
		t.Fatalf("expected builtin rules version, got %q", verdict.RulesVersion)
	}
	if verdict.Speakers["SPEAKER_00"].Percentage != 75 {
		t.Fatalf("unexpected speaker summary: %+v", verdict.Speakers)
	}
	if !strings.Contains(string(completion.QualityFlags), `"score":62`) {
		t.Fatalf("expected flattened quality result, got %s", completion.QualityFlags)
	}
}

func TestProcessClassifiesAnalyzerErrors(t *testing.T) {
	permanent := &fakeAnalyzer{err: services.Wrap(services.ErrValidation, "llm", "analyze", "empty transcript", nil)}
	handler := newHandler(t, permanent)
	_, err := handler.Process(context.Background(), transcribedCall(longTranscript))
	if kind := retry.KindOf(err); kind != retry.Permanent {
		t.Fatalf("expected permanent, got %s (%v)", kind, err)
	}
	if health := handler.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("permanent analyzer errors must not open the circuit: %+v", health)
	}

	transient := &fakeAnalyzer{err: errors.New("503 service unavailable")}
	handler = newHandler(t, transient)
	_, err = handler.Process(context.Background(), transcribedCall(longTranscript))
	if kind := retry.KindOf(err); kind != retry.Transient {
		t.Fatalf("expected transient, got %s (%v)", kind, err)
	}
	_, err = handler.Process(context.Background(), transcribedCall(longTranscript))
	if kind := retry.KindOf(err); kind != retry.DependencyOutage {
		t.Fatalf("expected dependency outage once circuit opened, got %s (%v)", kind, err)
	}
}

func TestProcessRevokedAnalyzerKeyIsConfiguration(t *testing.T) {
	analyzer := &fakeAnalyzer{err: &services.HTTPStatusError{Service: "llm", StatusCode: 401, Body: "invalid api key"}}
	handler := newHandler(t, analyzer)
	_, err := handler.Process(context.Background(), transcribedCall(longTranscript))
	if kind := retry.KindOf(err); kind != retry.Configuration {
		t.Fatalf("expected configuration, got %s (%v)", kind, err)
	}
	if services.IsPermanent(err) {
		t.Fatalf("a revoked key must not dead-letter the call: %v", err)
	}
}

func TestProcessToleratesUnreadableSegments(t *testing.T) {
	analyzer := &fakeAnalyzer{result: services.QualityResult{Score: 90}}
	handler := newHandler(t, analyzer)
	call := transcribedCall(longTranscript)
	call.DiarizationSegments = "{not json"
	completion, err := handler.Process(context.Background(), call)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if completion.Status != queue.StatusSafe || len(analyzer.input.Segments) != 0 {
		t.Fatalf("unexpected outcome: %+v input=%+v", completion, analyzer.input)
	}
}
