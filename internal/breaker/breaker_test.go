package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewRegistry(DefaultSettings(), WithClock(clock.Now)), clock
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	reg, _ := newTestRegistry(t)
	b := reg.Get("inference")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
		assert.Equal(t, StateClosed, b.State())
	}
	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "open breaker must not invoke the function")
	assert.True(t, errors.Is(err, ErrOpen))

	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "inference", openErr.Name)
	assert.Equal(t, 60*time.Second, openErr.RetryAfter)
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	reg, _ := newTestRegistry(t)
	b := reg.Get("llm")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = b.Execute(ctx, fail)
	}
	require.NoError(t, b.Execute(ctx, succeed))
	for i := 0; i < 4; i++ {
		_ = b.Execute(ctx, fail)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	reg, clock := newTestRegistry(t)
	b := reg.Get("inference")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(59 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())

	stats := b.Stats()
	assert.Zero(t, stats.Failures)
	assert.Nil(t, stats.OpenUntil)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	reg, clock := newTestRegistry(t)
	b := reg.Get("inference")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(61 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	b := reg.Get("llm")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Stats().Failures)
}

func TestBreakerExecuteIgnoringCountsIgnoredAsSuccess(t *testing.T) {
	reg, _ := newTestRegistry(t)
	b := reg.Get("recordings")
	ctx := context.Background()
	errGone := errors.New("gone")
	ignoreGone := func(err error) bool { return errors.Is(err, errGone) }

	for i := 0; i < 10; i++ {
		err := b.ExecuteIgnoring(ctx, ignoreGone, func(context.Context) error { return errGone })
		require.ErrorIs(t, err, errGone)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Stats().Failures)

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, b.ExecuteIgnoring(ctx, ignoreGone, fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestRegistrySharesBreakersByName(t *testing.T) {
	reg, _ := newTestRegistry(t)
	assert.Same(t, reg.Get("inference"), reg.Get("inference"))
	assert.NotSame(t, reg.Get("inference"), reg.Get("llm"))

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "inference", snapshot[0].Name)
	assert.Equal(t, "llm", snapshot[1].Name)
}

func TestRegistryResetAndStateChangeCallback(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []State
	)
	clock := &fakeClock{now: time.Now()}
	reg := NewRegistry(
		Settings{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 1},
		WithClock(clock.Now),
		WithStateChange(func(name string, from, to State, cause error) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		}),
	)
	b := reg.Get("calllog")
	_ = b.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	assert.True(t, reg.Reset("calllog"))
	assert.False(t, reg.Reset("unknown"))
	assert.Equal(t, StateClosed, b.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateOpen, StateClosed}, transitions)
}

func TestRegistryOverride(t *testing.T) {
	reg := NewRegistry(DefaultSettings(), WithOverride("blob", Settings{FailureThreshold: 1}))
	b := reg.Get("blob")
	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, b.State())
}
