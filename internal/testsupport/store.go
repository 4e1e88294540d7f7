package testsupport

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"callpipe/internal/config"
	"callpipe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

var callSeq atomic.Int64

// CallOption adjusts a call before it is inserted.
type CallOption func(*queue.CallInput)

// WithAudioURL sets the audio URL of a new call.
func WithAudioURL(url string) CallOption {
	return func(in *queue.CallInput) { in.AudioURL = url }
}

// WithCreatedAt sets the event time of a new call.
func WithCreatedAt(ts time.Time) CallOption {
	return func(in *queue.CallInput) { in.CreatedAt = ts }
}

// WithDuration sets the reported call length.
func WithDuration(seconds int) CallOption {
	return func(in *queue.CallInput) { in.DurationSeconds = &seconds }
}

// NewCall inserts a pending call with a unique external id and returns it.
// When status is not pending the row is moved there with an unguarded update.
func NewCall(t testing.TB, store *queue.Store, status queue.Status, opts ...CallOption) *queue.Call {
	t.Helper()

	ctx := context.Background()
	input := queue.CallInput{
		ExternalID: fmt.Sprintf("ext-%d-%d", time.Now().UnixNano(), callSeq.Add(1)),
		AudioURL:   "https://recordings.example.com/call.mp3",
		CreatedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&input)
	}
	if _, err := store.UpsertCalls(ctx, []queue.CallInput{input}); err != nil {
		t.Fatalf("store.UpsertCalls: %v", err)
	}
	call, err := store.GetByExternalID(ctx, input.ExternalID)
	if err != nil || call == nil {
		t.Fatalf("store.GetByExternalID: %v", err)
	}
	if status != "" && status != queue.StatusPending {
		call.Status = status
		if err := store.Update(ctx, call); err != nil {
			t.Fatalf("store.Update: %v", err)
		}
		call, err = store.Get(ctx, call.ID)
		if err != nil {
			t.Fatalf("store.Get: %v", err)
		}
	}
	return call
}

// MustGet reloads a call or fails the test.
func MustGet(t testing.TB, store *queue.Store, id string) *queue.Call {
	t.Helper()

	call, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if call == nil {
		t.Fatalf("call %s not found", id)
	}
	return call
}
