package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"callpipe/internal/api"
	"callpipe/internal/queue"
	"callpipe/internal/testsupport"
)

func TestQueueStatsAndList(t *testing.T) {
	env := setupCLITestEnv(t)
	pending := testsupport.NewCall(t, env.store, queue.StatusPending)
	failed := testsupport.NewCall(t, env.store, queue.StatusFailed)

	out, err := env.run(t, "queue", "stats")
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	requireContains(t, out, "pending")
	requireContains(t, out, "failed")
	requireContains(t, out, "TOTAL")

	out, err = env.run(t, "--json", "queue", "stats")
	if err != nil {
		t.Fatalf("queue stats --json: %v", err)
	}
	var stats api.QueueStatsResponse
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Counts["pending"] != 1 || stats.Counts["failed"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	out, err = env.run(t, "queue", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, failed.ID)
	if strings.Contains(out, pending.ID) {
		t.Fatalf("expected pending call to be filtered out: %s", out)
	}

	if _, err := env.run(t, "queue", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestQueueShow(t *testing.T) {
	env := setupCLITestEnv(t)
	call := testsupport.NewCall(t, env.store, queue.StatusTranscribed, testsupport.WithDuration(95))
	call.TranscriptText = "Agent: hello there"
	if err := env.store.Update(context.Background(), call); err != nil {
		t.Fatalf("update: %v", err)
	}

	out, err := env.run(t, "queue", "show", call.ID, "--transcript")
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	requireContains(t, out, "Status:      transcribed")
	requireContains(t, out, "Duration:    95s")
	requireContains(t, out, "Agent: hello there")

	if _, err := env.run(t, "queue", "show", "missing"); err == nil {
		t.Fatal("expected missing call to fail")
	}
}

func TestQueueRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	failed := testsupport.NewCall(t, env.store, queue.StatusFailed)

	if _, err := env.run(t, "queue", "retry"); err == nil {
		t.Fatal("expected retry without ids or --all to fail")
	}
	out, err := env.run(t, "queue", "retry", "--all")
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Retried 1 failed call(s)")
	if got := testsupport.MustGet(t, env.store, failed.ID).Status; got != queue.StatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
}

func TestQueueRecoverIsDryRunByDefault(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	transient := testsupport.NewCall(t, env.store, queue.StatusFailed)
	transient.LastError = "connection reset by peer"
	transient.AttemptCount = 1
	if err := env.store.Update(ctx, transient); err != nil {
		t.Fatalf("update: %v", err)
	}
	gone := testsupport.NewCall(t, env.store, queue.StatusFailed)
	gone.LastError = "HTTP 404 fetching recording"
	gone.AttemptCount = 1
	if err := env.store.Update(ctx, gone); err != nil {
		t.Fatalf("update: %v", err)
	}

	out, err := env.run(t, "queue", "recover")
	if err != nil {
		t.Fatalf("queue recover: %v", err)
	}
	requireContains(t, out, "1 of 2 failed call(s) recoverable")
	if got := testsupport.MustGet(t, env.store, transient.ID).Status; got != queue.StatusFailed {
		t.Fatalf("dry run changed status to %s", got)
	}

	out, err = env.run(t, "queue", "recover", "--apply")
	if err != nil {
		t.Fatalf("queue recover --apply: %v", err)
	}
	requireContains(t, out, "Retried 1 of 2")
	if got := testsupport.MustGet(t, env.store, transient.ID).Status; got != queue.StatusPending {
		t.Fatalf("expected recoverable call pending, got %s", got)
	}
	if got := testsupport.MustGet(t, env.store, gone.ID).Status; got != queue.StatusFailed {
		t.Fatalf("expected 404 call to stay failed, got %s", got)
	}
}

func TestQueueClassify(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "queue", "classify", "request", "timeout", "after", "60s")
	if err != nil {
		t.Fatalf("queue classify: %v", err)
	}
	requireContains(t, out, "Recoverable: yes")

	for _, msg := range []string{"HTTP 404", "HTTP 410", "connection reset"} {
		call := testsupport.NewCall(t, env.store, queue.StatusFailed)
		call.LastError = msg
		if err := env.store.Update(context.Background(), call); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	out, err = env.run(t, "--json", "queue", "classify")
	if err != nil {
		t.Fatalf("queue classify (all): %v", err)
	}
	var groups []classifyGroup
	if err := json.Unmarshal([]byte(out), &groups); err != nil {
		t.Fatalf("decode groups: %v", err)
	}
	total := 0
	for _, g := range groups {
		total += g.Count
	}
	if total != 3 || len(groups) < 2 {
		t.Fatalf("unexpected groups %+v", groups)
	}
}

func TestQueueReap(t *testing.T) {
	env := setupCLITestEnv(t)
	stuck := testsupport.NewCall(t, env.store, queue.StatusProcessing)
	stuck.UpdatedAt = time.Now().Add(-2 * time.Hour)
	if err := env.store.Update(context.Background(), stuck); err != nil {
		t.Fatalf("update: %v", err)
	}

	out, err := env.run(t, "queue", "reap", "--ttl", "30m")
	if err != nil {
		t.Fatalf("queue reap: %v", err)
	}
	requireContains(t, out, "Reset 1 zombie call(s)")
	if got := testsupport.MustGet(t, env.store, stuck.ID).Status; got != queue.StatusDownloaded {
		t.Fatalf("expected downloaded after reap, got %s", got)
	}
}

func TestQueueExport(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.NewCall(t, env.store, queue.StatusSafe)
	testsupport.NewCall(t, env.store, queue.StatusFlagged)

	target := filepath.Join(t.TempDir(), "calls")
	out, err := env.run(t, "queue", "export", target)
	if err != nil {
		t.Fatalf("queue export: %v", err)
	}
	requireContains(t, out, "Exported 2 call(s)")

	f, err := excelize.OpenFile(target + ".xlsx")
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Calls")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 calls, got %d rows", len(rows))
	}
}

func TestListAllPagesUntilLimit(t *testing.T) {
	env := setupCLITestEnv(t)
	for range 5 {
		testsupport.NewCall(t, env.store, queue.StatusFailed)
	}
	calls, err := listAll(context.Background(), env.store, []queue.Status{queue.StatusFailed}, 3)
	if err != nil {
		t.Fatalf("listAll: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	calls, err = listAll(context.Background(), env.store, nil, 0)
	if err != nil {
		t.Fatalf("listAll: %v", err)
	}
	if len(calls) != 5 {
		t.Fatalf("expected 5 calls, got %d", len(calls))
	}
}
