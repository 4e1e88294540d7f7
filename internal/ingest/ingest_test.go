package ingest_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"callpipe/internal/backfill"
	"callpipe/internal/ingest"
	"callpipe/internal/queue"
	"callpipe/internal/services"
	"callpipe/internal/testsupport"
)

func intPtr(v int) *int { return &v }

type fakeSource struct {
	mu      sync.Mutex
	records []services.CallRecord
	err     error
	windows [][2]time.Time
}

func (f *fakeSource) Fetch(_ context.Context, start, end time.Time) ([]services.CallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, [2]time.Time{start, end})
	return f.records, f.err
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

type countingCache struct {
	*ingest.MemoryCache
	gets, puts int
}

func (c *countingCache) Get(ctx context.Context, id string) (string, bool, error) {
	c.gets++
	return c.MemoryCache.Get(ctx, id)
}

func (c *countingCache) Put(ctx context.Context, ext, id string) error {
	c.puts++
	return c.MemoryCache.Put(ctx, ext, id)
}

func TestInitialStatus(t *testing.T) {
	tests := []struct {
		name       string
		duration   *int
		wantStatus queue.Status
		wantReason string
	}{
		{name: "unknown", duration: nil, wantStatus: queue.StatusPending},
		{name: "zero", duration: intPtr(0), wantStatus: queue.StatusSkipped, wantReason: ingest.ReasonZeroDuration},
		{name: "short", duration: intPtr(4), wantStatus: queue.StatusSkipped, wantReason: ingest.ReasonTooShort},
		{name: "minimum", duration: intPtr(5), wantStatus: queue.StatusPending},
		{name: "long", duration: intPtr(600), wantStatus: queue.StatusPending},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, reason := ingest.InitialStatus(tc.duration)
			if status != tc.wantStatus || reason != tc.wantReason {
				t.Fatalf("InitialStatus = (%s, %q), want (%s, %q)", status, reason, tc.wantStatus, tc.wantReason)
			}
		})
	}
}

func sampleRecords() []services.CallRecord {
	started := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return []services.CallRecord{
		{ExternalID: "ext-1", CampaignExternalID: "camp-a", CampaignName: "Medicare", AudioURL: "https://r/1.mp3", DurationSeconds: intPtr(120), Revenue: 12.5, StartedAt: started},
		{ExternalID: "ext-2", CampaignExternalID: "camp-a", CampaignName: "Medicare", DurationSeconds: intPtr(0), StartedAt: started.Add(time.Minute)},
		{ExternalID: "ext-3", CampaignExternalID: "camp-b", CampaignName: "Auto", AudioURL: "https://r/3.mp3", DurationSeconds: intPtr(3), StartedAt: started.Add(2 * time.Minute)},
		{ExternalID: " ", CampaignExternalID: "camp-b"},
	}
}

func TestIngestWritesCallsAndCachesCampaigns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	cache := &countingCache{MemoryCache: ingest.NewMemoryCache()}
	syncer := ingest.NewSyncer(store, nil, cache, nil)
	ctx := context.Background()

	result, err := syncer.Ingest(ctx, sampleRecords())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Fetched != 4 || result.Upserted != 3 || result.Skipped != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if cache.puts != 2 || cache.MemoryCache.Len() != 2 {
		t.Fatalf("expected two campaigns cached, got puts=%d len=%d", cache.puts, cache.MemoryCache.Len())
	}

	first, err := store.GetByExternalID(ctx, "ext-1")
	if err != nil || first == nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if first.Status != queue.StatusPending || first.CampaignName != "Medicare" || first.CampaignID == "" {
		t.Fatalf("unexpected call: %+v", first)
	}
	campaign, err := store.CampaignByExternalID(ctx, "camp-a")
	if err != nil || campaign == nil || campaign.ID != first.CampaignID {
		t.Fatalf("campaign not linked: %+v err=%v", campaign, err)
	}

	zero, _ := store.GetByExternalID(ctx, "ext-2")
	if zero.Status != queue.StatusSkipped || zero.SkipReason != ingest.ReasonZeroDuration {
		t.Fatalf("expected zero_duration skip, got %+v", zero)
	}
	short, _ := store.GetByExternalID(ctx, "ext-3")
	if short.Status != queue.StatusSkipped || short.SkipReason != ingest.ReasonTooShort {
		t.Fatalf("expected too_short skip, got %+v", short)
	}

	puts := cache.puts
	if _, err := syncer.Ingest(ctx, sampleRecords()); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if cache.puts != puts {
		t.Fatalf("cached campaigns must not be re-resolved, puts went %d -> %d", puts, cache.puts)
	}
}

func TestIngestNeverRewindsPipelineState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	syncer := ingest.NewSyncer(store, nil, nil, nil)
	ctx := context.Background()

	if _, err := syncer.Ingest(ctx, sampleRecords()[:1]); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	call, _ := store.GetByExternalID(ctx, "ext-1")
	call.Status = queue.StatusTranscribed
	if err := store.Update(ctx, call); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := syncer.Ingest(ctx, sampleRecords()[:1]); err != nil {
		t.Fatalf("re-Ingest: %v", err)
	}
	again := testsupport.MustGet(t, store, call.ID)
	if again.Status != queue.StatusTranscribed {
		t.Fatalf("re-sync rewound status to %s", again.Status)
	}
}

func TestFetchFeedsBackfillRunner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	source := &fakeSource{records: sampleRecords()[:1]}
	syncer := ingest.NewSyncer(store, source, nil, nil)

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	runner := backfill.Runner{Fetch: syncer.Fetch}
	summary, err := runner.Run(context.Background(), start, start.Add(48*time.Hour), 24*time.Hour, backfill.FIFO)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Windows != 2 || summary.Succeeded != 2 || summary.Records != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !source.windows[0][0].Equal(start) || !source.windows[1][1].Equal(start.Add(48*time.Hour)) {
		t.Fatalf("unexpected windows: %v", source.windows)
	}
}

func TestSyncWindowPropagatesSourceErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	boom := errors.New("calllog down")
	syncer := ingest.NewSyncer(store, &fakeSource{err: boom}, nil, nil)
	if _, err := syncer.SyncWindow(context.Background(), time.Now().Add(-time.Hour), time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}

	unconfigured := ingest.NewSyncer(store, nil, nil, nil)
	if _, err := unconfigured.SyncWindow(context.Background(), time.Now().Add(-time.Hour), time.Now()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunSyncsUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	source := &fakeSource{}
	syncer := ingest.NewSyncer(store, source, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx, 10*time.Millisecond, 5*time.Minute) }()

	deadline := time.After(2 * time.Second)
	for source.calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated syncs, got %d", source.calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	source.mu.Lock()
	window := source.windows[0]
	source.mu.Unlock()
	if got := window[1].Sub(window[0]); got != 5*time.Minute {
		t.Fatalf("expected 5m lookback window, got %s", got)
	}
}

func TestRunStopsOnConfigurationError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	revoked := &services.HTTPStatusError{Service: "calllog", StatusCode: 401}
	source := &fakeSource{err: services.Wrap(services.ErrConfiguration, "calllog", "fetch", "invalid credentials", revoked)}
	syncer := ingest.NewSyncer(store, source, nil, nil)

	done := make(chan error, 1)
	go func() { done <- syncer.Run(context.Background(), 10*time.Millisecond, 5*time.Minute) }()

	select {
	case err := <-done:
		if !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("expected configuration error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept looping after a configuration error")
	}
	if got := source.calls(); got != 1 {
		t.Fatalf("expected a single fetch, got %d", got)
	}
}

func TestRunKeepsGoingAfterTransientErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	source := &fakeSource{err: errors.New("connection reset by peer")}
	syncer := ingest.NewSyncer(store, source, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx, 10*time.Millisecond, 5*time.Minute) }()

	deadline := time.After(2 * time.Second)
	for source.calls() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected retries after transient errors, got %d fetches", source.calls())
		case err := <-done:
			t.Fatalf("Run returned early: %v", err)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	url := os.Getenv("CALLPIPE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CALLPIPE_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	cache, err := ingest.OpenRedisCache(ctx, url, "callpipe:test:", time.Minute)
	if err != nil {
		t.Fatalf("OpenRedisCache: %v", err)
	}
	defer cache.Close()

	key := "camp-" + time.Now().Format("150405.000000")
	if _, ok, err := cache.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := cache.Put(ctx, key, "id-1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id, ok, err := cache.Get(ctx, key); err != nil || !ok || id != "id-1" {
		t.Fatalf("expected hit, got id=%q ok=%v err=%v", id, ok, err)
	}
}

func TestRedisCacheKeyPrefix(t *testing.T) {
	cache := ingest.NewRedisCache(nil, "callpipe:campaign:", time.Hour)
	if got := cache.Key("123"); got != "callpipe:campaign:123" {
		t.Fatalf("unexpected key %q", got)
	}
}
