package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callpipe/internal/queue"
	"callpipe/internal/testsupport"
)

func vaultSpec() queue.LaneSpec {
	return queue.LaneSpec{
		Name:            "vault",
		Source:          queue.StatusPending,
		Mode:            queue.ClaimBySentinel,
		Order:           queue.OrderLIFO,
		MaxAttempts:     3,
		RequireAudioURL: true,
	}
}

func factorySpec() queue.LaneSpec {
	return queue.LaneSpec{
		Name:        "factory",
		Source:      queue.StatusDownloaded,
		Mode:        queue.ClaimByStatus,
		InProgress:  queue.StatusProcessing,
		Order:       queue.OrderLIFO,
		MaxAttempts: 3,
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.Reachable || !health.TableExists {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("expected schema version 1, got %d", health.SchemaVersion)
	}
	if !health.IntegrityCheck {
		t.Fatalf("expected integrity check to pass: %+v", health)
	}

	// Reopening an initialized database must not recreate the schema.
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = reopened.Close()
}

func TestUpsertCallsPreservesPipelineState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	duration := 120
	input := queue.CallInput{
		ExternalID:      "RGB-1",
		CampaignName:    "Medicare",
		AudioURL:        "https://example.com/a.mp3",
		DurationSeconds: &duration,
		Revenue:         12.5,
		CreatedAt:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if n, err := store.UpsertCalls(ctx, []queue.CallInput{input}); err != nil || n != 1 {
		t.Fatalf("UpsertCalls: n=%d err=%v", n, err)
	}
	call, err := store.GetByExternalID(ctx, "RGB-1")
	if err != nil || call == nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if call.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", call.Status)
	}

	call.Status = queue.StatusTranscribed
	call.TranscriptText = "hello there"
	call.AttemptCount = 2
	if err := store.Update(ctx, call); err != nil {
		t.Fatalf("Update: %v", err)
	}

	input.AudioURL = ""
	input.Revenue = 40
	if _, err := store.UpsertCalls(ctx, []queue.CallInput{input}); err != nil {
		t.Fatalf("UpsertCalls again: %v", err)
	}
	after := testsupport.MustGet(t, store, call.ID)
	if after.Status != queue.StatusTranscribed || after.AttemptCount != 2 || after.TranscriptText != "hello there" {
		t.Fatalf("upsert rewound pipeline state: %+v", after)
	}
	if after.AudioURL != "https://example.com/a.mp3" {
		t.Fatalf("blank audio url must not clear stored url, got %q", after.AudioURL)
	}
	if after.Revenue != 40 {
		t.Fatalf("expected revenue refreshed, got %v", after.Revenue)
	}
	if !after.CreatedAt.Equal(input.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", input.CreatedAt, after.CreatedAt)
	}
}

func TestUpsertCampaignIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.UpsertCampaign(ctx, queue.Campaign{ExternalID: "CA-1", Name: "Auto"})
	if err != nil {
		t.Fatalf("UpsertCampaign: %v", err)
	}
	second, err := store.UpsertCampaign(ctx, queue.Campaign{ExternalID: "CA-1", Name: "Auto Insurance"})
	if err != nil {
		t.Fatalf("UpsertCampaign again: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable campaign id, got %s and %s", first, second)
	}
	campaign, err := store.CampaignByExternalID(ctx, "CA-1")
	if err != nil || campaign == nil {
		t.Fatalf("CampaignByExternalID: %v", err)
	}
	if campaign.Name != "Auto Insurance" {
		t.Fatalf("expected refreshed name, got %q", campaign.Name)
	}
	missing, err := store.CampaignByExternalID(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown campaign, got %+v err=%v", missing, err)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	call, err := store.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if call != nil {
		t.Fatalf("expected nil call, got %+v", call)
	}
}

func TestClaimSentinelMutualExclusion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	call := testsupport.NewCall(t, store, queue.StatusPending)

	const workers = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*queue.Call
		errs    []error
	)
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			claimed, ok, err := store.ClaimSentinel(context.Background(), call.ID, queue.StatusPending)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				winners = append(winners, claimed)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("claim errors: %v", errs)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	if winners[0].ClaimToken == "" || winners[0].ClaimedAt == nil {
		t.Fatalf("winner missing claim token: %+v", winners[0])
	}
	stored := testsupport.MustGet(t, store, call.ID)
	if stored.Status != queue.StatusPending {
		t.Fatalf("sentinel claim must not change status, got %s", stored.Status)
	}
	if stored.ClaimToken != winners[0].ClaimToken {
		t.Fatalf("stored token %q does not match winner %q", stored.ClaimToken, winners[0].ClaimToken)
	}
}

func TestClaimByStatusMutualExclusion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	call := testsupport.NewCall(t, store, queue.StatusDownloaded)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.Claim(context.Background(), call.ID, queue.StatusDownloaded, queue.StatusProcessing)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one successful claim, got %d", wins)
	}
	if got := testsupport.MustGet(t, store, call.ID).Status; got != queue.StatusProcessing {
		t.Fatalf("expected processing, got %s", got)
	}
}

func TestClaimConflictIsNotAnError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	call := testsupport.NewCall(t, store, queue.StatusTranscribed)

	claimed, ok, err := store.Claim(context.Background(), call.ID, queue.StatusDownloaded, queue.StatusProcessing)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok || claimed != nil {
		t.Fatalf("expected no claim for mismatched status, got %+v", claimed)
	}
}

func TestFetchCandidatesOrdering(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	oldest := testsupport.NewCall(t, store, queue.StatusPending, testsupport.WithCreatedAt(base))
	middle := testsupport.NewCall(t, store, queue.StatusPending, testsupport.WithCreatedAt(base.Add(time.Hour)))
	newest := testsupport.NewCall(t, store, queue.StatusPending, testsupport.WithCreatedAt(base.Add(2*time.Hour)))
	testsupport.NewCall(t, store, queue.StatusPending, testsupport.WithAudioURL(""), testsupport.WithCreatedAt(base.Add(3*time.Hour)))

	spec := vaultSpec()
	lifo, err := store.FetchCandidates(ctx, spec, 10)
	if err != nil {
		t.Fatalf("FetchCandidates lifo: %v", err)
	}
	if len(lifo) != 3 {
		t.Fatalf("expected calls without audio url excluded, got %d candidates", len(lifo))
	}
	if lifo[0].ID != newest.ID || lifo[2].ID != oldest.ID {
		t.Fatalf("expected newest first, got %s,%s,%s", lifo[0].ExternalID, lifo[1].ExternalID, lifo[2].ExternalID)
	}

	spec.Order = queue.OrderFIFO
	fifo, err := store.FetchCandidates(ctx, spec, 2)
	if err != nil {
		t.Fatalf("FetchCandidates fifo: %v", err)
	}
	if len(fifo) != 2 || fifo[0].ID != oldest.ID || fifo[1].ID != middle.ID {
		t.Fatalf("unexpected fifo order: %+v", fifo)
	}
}

func TestFetchCandidatesSkipsClaimedAndExhausted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	free := testsupport.NewCall(t, store, queue.StatusPending)
	claimed := testsupport.NewCall(t, store, queue.StatusPending)
	if _, ok, err := store.ClaimSentinel(ctx, claimed.ID, queue.StatusPending); err != nil || !ok {
		t.Fatalf("ClaimSentinel: ok=%v err=%v", ok, err)
	}
	exhausted := testsupport.NewCall(t, store, queue.StatusPending)
	exhausted.AttemptCount = 3
	if err := store.Update(ctx, exhausted); err != nil {
		t.Fatalf("Update: %v", err)
	}

	candidates, err := store.FetchCandidates(ctx, vaultSpec(), 10)
	if err != nil {
		t.Fatalf("FetchCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != free.ID {
		t.Fatalf("expected only the free call, got %d candidates", len(candidates))
	}
}

func TestFetchCandidatesRequireUnscored(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	unscored := testsupport.NewCall(t, store, queue.StatusTranscribed)
	scored := testsupport.NewCall(t, store, queue.StatusTranscribed)
	scored.QualityFlags = `{"score":90}`
	if err := store.Update(ctx, scored); err != nil {
		t.Fatalf("Update: %v", err)
	}

	spec := queue.LaneSpec{Name: "judge", Source: queue.StatusTranscribed, Mode: queue.ClaimBySentinel, MaxAttempts: 3, RequireUnscored: true}
	candidates, err := store.FetchCandidates(ctx, spec, 10)
	if err != nil {
		t.Fatalf("FetchCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != unscored.ID {
		t.Fatalf("expected only the unscored call, got %d", len(candidates))
	}
}

func TestClaimNextClaimsBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for range 3 {
		testsupport.NewCall(t, store, queue.StatusDownloaded)
	}
	claimed, err := store.ClaimNext(ctx, factorySpec(), 2)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed calls, got %d", len(claimed))
	}
	for _, call := range claimed {
		if call.Status != queue.StatusProcessing {
			t.Fatalf("expected processing, got %s", call.Status)
		}
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusProcessing] != 2 || stats[queue.StatusDownloaded] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestCompleteReleasesSentinel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	call := testsupport.NewCall(t, store, queue.StatusPending)

	claimed, ok, err := store.ClaimSentinel(ctx, call.ID, queue.StatusPending)
	if err != nil || !ok {
		t.Fatalf("ClaimSentinel: ok=%v err=%v", ok, err)
	}
	if err := store.Complete(ctx, claimed, queue.Completion{Status: queue.StatusDownloaded, BlobPath: "2026/01/01/x.mp3"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	stored := testsupport.MustGet(t, store, call.ID)
	if stored.Status != queue.StatusDownloaded || stored.BlobPath != "2026/01/01/x.mp3" {
		t.Fatalf("unexpected completion: %+v", stored)
	}
	if stored.Claimed() || stored.ClaimedAt != nil {
		t.Fatalf("expected claim cleared, got token %q", stored.ClaimToken)
	}

	// A second completion with the stale token must be rejected.
	err = store.Complete(ctx, claimed, queue.Completion{Status: queue.StatusFailed})
	if !errors.Is(err, queue.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}
}

func TestCompleteStoresJSONPayloads(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	call := testsupport.NewCall(t, store, queue.StatusDownloaded)

	claimed, ok, err := store.Claim(ctx, call.ID, queue.StatusDownloaded, queue.StatusProcessing)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	segments := json.RawMessage(`[{"speaker":"SPEAKER_00","start":0,"end":1.5,"text":"hi"}]`)
	if err := store.Complete(ctx, claimed, queue.Completion{
		Status:              queue.StatusTranscribed,
		TranscriptText:      "hi",
		DiarizationSegments: segments,
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	stored := testsupport.MustGet(t, store, call.ID)
	if stored.TranscriptText != "hi" || stored.DiarizationSegments != string(segments) {
		t.Fatalf("unexpected payload: %+v", stored)
	}
}

func TestRetryCeiling(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	call := testsupport.NewCall(t, store, queue.StatusDownloaded)
	spec := factorySpec()

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := store.ClaimNext(ctx, spec, 1)
		if err != nil {
			t.Fatalf("attempt %d ClaimNext: %v", attempt, err)
		}
		if len(claimed) != 1 {
			t.Fatalf("attempt %d: expected call to be claimable", attempt)
		}
		next := spec.Rollback()
		if claimed[0].AttemptCount+1 >= spec.MaxAttempts {
			next = queue.StatusFailed
		}
		if err := store.Fail(ctx, claimed[0], queue.Failure{Status: next, Error: "CUDA out of memory", Consume: true}); err != nil {
			t.Fatalf("attempt %d Fail: %v", attempt, err)
		}
	}

	stored := testsupport.MustGet(t, store, call.ID)
	if stored.Status != queue.StatusFailed || stored.AttemptCount != 3 {
		t.Fatalf("expected failed after 3 attempts, got %s/%d", stored.Status, stored.AttemptCount)
	}
	claimed, err := store.ClaimNext(ctx, spec, 1)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("failed call must not be claimable")
	}
}

func TestFailTruncatesError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	call := testsupport.NewCall(t, store, queue.StatusPending)

	claimed, ok, err := store.ClaimSentinel(ctx, call.ID, queue.StatusPending)
	if err != nil || !ok {
		t.Fatalf("ClaimSentinel: ok=%v err=%v", ok, err)
	}
	if err := store.Fail(ctx, claimed, queue.Failure{Status: queue.StatusPending, Error: strings.Repeat("x", 900), Consume: true}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	stored := testsupport.MustGet(t, store, call.ID)
	if len(stored.LastError) != 500 {
		t.Fatalf("expected 500-char error, got %d", len(stored.LastError))
	}
	if stored.AttemptCount != 1 || stored.Claimed() {
		t.Fatalf("unexpected state after fail: %+v", stored)
	}
}

func TestReleaseDoesNotConsumeAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	call := testsupport.NewCall(t, store, queue.StatusTranscribed)

	claimed, ok, err := store.ClaimSentinel(ctx, call.ID, queue.StatusTranscribed)
	if err != nil || !ok {
		t.Fatalf("ClaimSentinel: ok=%v err=%v", ok, err)
	}
	if err := store.Release(ctx, claimed, queue.StatusTranscribed, "circuit llm open"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	stored := testsupport.MustGet(t, store, call.ID)
	if stored.AttemptCount != 0 || stored.Claimed() || stored.Status != queue.StatusTranscribed {
		t.Fatalf("unexpected state after release: %+v", stored)
	}
}

func TestReapZombiesIsAttemptNeutral(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	stale := time.Now().Add(-2 * time.Hour).UTC()

	processing := testsupport.NewCall(t, store, queue.StatusProcessing)
	processing.AttemptCount = 2
	processing.UpdatedAt = stale
	if err := store.Update(ctx, processing); err != nil {
		t.Fatalf("Update processing: %v", err)
	}

	sentinel := testsupport.NewCall(t, store, queue.StatusPending)
	sentinel.ClaimToken = "abandoned"
	sentinel.ClaimedAt = &stale
	sentinel.UpdatedAt = stale
	sentinel.AttemptCount = 1
	if err := store.Update(ctx, sentinel); err != nil {
		t.Fatalf("Update sentinel: %v", err)
	}

	fresh := testsupport.NewCall(t, store, queue.StatusProcessing)
	unclaimed := testsupport.NewCall(t, store, queue.StatusTranscribed)
	unclaimed.UpdatedAt = stale
	if err := store.Update(ctx, unclaimed); err != nil {
		t.Fatalf("Update unclaimed: %v", err)
	}

	reaped, err := store.ReapZombies(ctx, time.Now().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ReapZombies: %v", err)
	}
	if reaped != 2 {
		t.Fatalf("expected 2 zombies reset, got %d", reaped)
	}

	gotProcessing := testsupport.MustGet(t, store, processing.ID)
	if gotProcessing.Status != queue.StatusDownloaded || gotProcessing.AttemptCount != 2 {
		t.Fatalf("unexpected processing zombie: %s/%d", gotProcessing.Status, gotProcessing.AttemptCount)
	}
	if !strings.HasPrefix(gotProcessing.LastError, queue.ZombieResetPrefix) {
		t.Fatalf("expected zombie reset tag, got %q", gotProcessing.LastError)
	}

	gotSentinel := testsupport.MustGet(t, store, sentinel.ID)
	if gotSentinel.Status != queue.StatusPending || gotSentinel.Claimed() || gotSentinel.AttemptCount != 1 {
		t.Fatalf("unexpected sentinel zombie: %+v", gotSentinel)
	}

	if got := testsupport.MustGet(t, store, fresh.ID).Status; got != queue.StatusProcessing {
		t.Fatalf("fresh claim must survive, got %s", got)
	}
	if got := testsupport.MustGet(t, store, unclaimed.ID); got.LastError != "" {
		t.Fatalf("unclaimed call must be untouched, got %q", got.LastError)
	}

	// The reaped call sits one attempt below the ceiling and still gets
	// exactly one more real attempt.
	spec := factorySpec()
	reclaimed, err := store.ClaimNext(ctx, spec, 10)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID != processing.ID {
		t.Fatalf("expected the reaped call to be claimable, got %d calls", len(reclaimed))
	}
	if err := store.Fail(ctx, reclaimed[0], queue.Failure{Status: queue.StatusFailed, Error: "inference 503", Consume: true}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	final := testsupport.MustGet(t, store, processing.ID)
	if final.Status != queue.StatusFailed || final.AttemptCount != spec.MaxAttempts {
		t.Fatalf("expected failed at %d attempts, got %s/%d", spec.MaxAttempts, final.Status, final.AttemptCount)
	}
}

func TestReapedClaimCannotComplete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	call := testsupport.NewCall(t, store, queue.StatusDownloaded)

	claimed, ok, err := store.Claim(ctx, call.ID, queue.StatusDownloaded, queue.StatusProcessing)
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	if _, err := store.ReapZombies(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("ReapZombies: %v", err)
	}
	err = store.Complete(ctx, claimed, queue.Completion{Status: queue.StatusTranscribed, TranscriptText: "late"})
	if !errors.Is(err, queue.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost after reap, got %v", err)
	}
}

func TestStaleClaimCannotOverwriteReclaimedCall(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	call := testsupport.NewCall(t, store, queue.StatusDownloaded)

	stale, ok, err := store.Claim(ctx, call.ID, queue.StatusDownloaded, queue.StatusProcessing)
	if err != nil || !ok {
		t.Fatalf("first Claim: ok=%v err=%v", ok, err)
	}
	if _, err := store.ReapZombies(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("ReapZombies: %v", err)
	}
	current, ok, err := store.Claim(ctx, call.ID, queue.StatusDownloaded, queue.StatusProcessing)
	if err != nil || !ok {
		t.Fatalf("second Claim: ok=%v err=%v", ok, err)
	}
	if current.ClaimToken == "" || current.ClaimToken == stale.ClaimToken {
		t.Fatalf("expected a fresh claim token, got %q (stale %q)", current.ClaimToken, stale.ClaimToken)
	}

	err = store.Complete(ctx, stale, queue.Completion{Status: queue.StatusTranscribed, TranscriptText: "stale worker"})
	if !errors.Is(err, queue.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost for the stale worker, got %v", err)
	}
	err = store.Fail(ctx, stale, queue.Failure{Status: queue.StatusDownloaded, Error: "late failure", Consume: true})
	if !errors.Is(err, queue.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost for a stale failure, got %v", err)
	}
	if got := testsupport.MustGet(t, store, call.ID); got.Status != queue.StatusProcessing || got.AttemptCount != 0 {
		t.Fatalf("stale writes leaked into the row: %s/%d", got.Status, got.AttemptCount)
	}

	if err := store.Complete(ctx, current, queue.Completion{Status: queue.StatusTranscribed, TranscriptText: "current worker"}); err != nil {
		t.Fatalf("Complete current: %v", err)
	}
	got := testsupport.MustGet(t, store, call.ID)
	if got.Status != queue.StatusTranscribed || got.TranscriptText != "current worker" || got.Claimed() {
		t.Fatalf("unexpected final row: %s %q claimed=%v", got.Status, got.TranscriptText, got.Claimed())
	}
}

func TestRetryFailedRoutesByPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	withTranscript := testsupport.NewCall(t, store, queue.StatusFailed)
	withTranscript.TranscriptText = "done"
	withTranscript.BlobPath = "a.mp3"
	withTranscript.AttemptCount = 3
	withBlob := testsupport.NewCall(t, store, queue.StatusFailed)
	withBlob.BlobPath = "b.mp3"
	withBlob.AttemptCount = 3
	urlOnly := testsupport.NewCall(t, store, queue.StatusFailed)
	urlOnly.AttemptCount = 3
	noAudio := testsupport.NewCall(t, store, queue.StatusFailed, testsupport.WithAudioURL(""))
	for _, call := range []*queue.Call{withTranscript, withBlob, urlOnly} {
		if err := store.Update(ctx, call); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	updated, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if updated != 3 {
		t.Fatalf("expected 3 calls retried, got %d", updated)
	}

	cases := []struct {
		call     *queue.Call
		expected queue.Status
	}{
		{withTranscript, queue.StatusTranscribed},
		{withBlob, queue.StatusDownloaded},
		{urlOnly, queue.StatusPending},
		{noAudio, queue.StatusFailed},
	}
	for _, tc := range cases {
		got := testsupport.MustGet(t, store, tc.call.ID)
		if got.Status != tc.expected {
			t.Fatalf("%s: expected %s, got %s", tc.call.ExternalID, tc.expected, got.Status)
		}
		if tc.expected != queue.StatusFailed && got.AttemptCount != 0 {
			t.Fatalf("%s: expected attempts reset, got %d", tc.call.ExternalID, got.AttemptCount)
		}
	}

	urlOnly.Status = queue.StatusFailed
	urlOnly.AttemptCount = 3
	if err := store.Update(ctx, urlOnly); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, err = store.RetryFailed(ctx, urlOnly.ID, "unknown-id")
	if err != nil {
		t.Fatalf("RetryFailed targeted: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 targeted retry, got %d", updated)
	}
}

func TestHealthSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewCall(t, store, queue.StatusPending)
	claimed := testsupport.NewCall(t, store, queue.StatusPending)
	if _, ok, err := store.ClaimSentinel(ctx, claimed.ID, queue.StatusPending); err != nil || !ok {
		t.Fatalf("ClaimSentinel: ok=%v err=%v", ok, err)
	}
	testsupport.NewCall(t, store, queue.StatusProcessing)
	testsupport.NewCall(t, store, queue.StatusFailed)
	testsupport.NewCall(t, store, queue.StatusSafe)

	summary, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if summary.Total != 5 || summary.Waiting != 1 || summary.InFlight != 2 || summary.Terminal != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestListFilterAndPaging(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	a := testsupport.NewCall(t, store, queue.StatusPending, testsupport.WithCreatedAt(base))
	b := testsupport.NewCall(t, store, queue.StatusFailed, testsupport.WithCreatedAt(base.Add(time.Minute)))
	c := testsupport.NewCall(t, store, queue.StatusSafe, testsupport.WithCreatedAt(base.Add(2*time.Minute)))

	all, err := store.List(ctx, queue.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != c.ID || all[2].ID != a.ID {
		t.Fatalf("expected newest first ordering")
	}

	filtered, err := store.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusFailed, queue.StatusPending}})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(filtered) != 2 || filtered[0].ID != b.ID {
		t.Fatalf("unexpected filtered list: %d", len(filtered))
	}

	page, err := store.List(ctx, queue.ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List page: %v", err)
	}
	if len(page) != 1 || page[0].ID != b.ID {
		t.Fatalf("unexpected page: %d", len(page))
	}
}
