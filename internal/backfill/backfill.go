// Package backfill splits a historical time range into windows and feeds
// them to a fetch function one at a time.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"callpipe/internal/logging"
)

// Order selects which end of the range is processed first.
type Order string

const (
	// LIFO processes the newest window first so recent calls land early.
	LIFO Order = "lifo"
	// FIFO processes windows oldest first.
	FIFO Order = "fifo"
)

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return w.Start.UTC().Format("2006-01-02 15:04") + " -> " + w.End.UTC().Format("2006-01-02 15:04")
}

// Plan splits [start, end) into consecutive windows of size. The last window
// is truncated at end. LIFO reverses the list without changing boundaries.
func Plan(start, end time.Time, size time.Duration, order Order) ([]Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %s", size)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("invalid range: start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	var windows []Window
	for cur := start; cur.Before(end); cur = cur.Add(size) {
		next := cur.Add(size)
		if next.After(end) {
			next = end
		}
		windows = append(windows, Window{Start: cur, End: next})
	}
	if order != FIFO {
		slices.Reverse(windows)
	}
	return windows, nil
}

// FetchFunc processes one window.
type FetchFunc func(ctx context.Context, window Window) (int, error)

// Summary reports the outcome of a run.
type Summary struct {
	Windows   int
	Succeeded int
	Failed    int
	Records   int
	Errors    []error
}

// Runner executes a plan window by window.
type Runner struct {
	Fetch FetchFunc
	// Delay is slept between windows to stay under upstream rate limits.
	Delay  time.Duration
	Logger *slog.Logger
}

// Run plans [start, end) and fetches every window. A failing window is
// logged and skipped. Cancellation stops the run and returns ctx.Err()
// alongside the partial summary.
func (r Runner) Run(ctx context.Context, start, end time.Time, size time.Duration, order Order) (Summary, error) {
	if r.Fetch == nil {
		return Summary{}, errors.New("backfill: fetch function is required")
	}
	windows, err := Plan(start, end, size, order)
	if err != nil {
		return Summary{}, err
	}
	logger := logging.NewComponentLogger(r.Logger, "backfill")
	logger.Info("backfill started",
		logging.String("range", Window{Start: start, End: end}.String()),
		logging.Int("windows", len(windows)),
		logging.Duration("chunk", size),
		logging.String("order", string(orderOrDefault(order))),
	)

	summary := Summary{Windows: len(windows)}
	for i, window := range windows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		records, err := r.Fetch(ctx, window)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Errorf("window %s: %w", window, err))
			logging.WarnWithContext(logger, "backfill window failed", "backfill_window_failed",
				logging.Int("window", i+1),
				logging.String("span", window.String()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "calls in this window were not ingested; rerun the backfill for this span"),
			)
		} else {
			summary.Succeeded++
			summary.Records += records
			logger.Info("backfill window complete",
				logging.Int("window", i+1),
				logging.Int("of", len(windows)),
				logging.String("span", window.String()),
				logging.Int("records", records),
			)
		}
		if r.Delay > 0 && i < len(windows)-1 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(r.Delay):
			}
		}
	}
	logger.Info("backfill finished",
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("records", summary.Records),
	)
	return summary, nil
}

func orderOrDefault(order Order) Order {
	if order == FIFO {
		return FIFO
	}
	return LIFO
}
