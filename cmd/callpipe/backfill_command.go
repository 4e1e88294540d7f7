package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"callpipe/internal/backfill"
	"callpipe/internal/daemonrun"
	"callpipe/internal/logging"
	"callpipe/internal/notifications"
	"callpipe/internal/queue"
)

type backfillFlags struct {
	start      string
	end        string
	hours      int
	days       int
	chunkHours int
	fifo       bool
	delay      time.Duration
}

func newBackfillCommand(ctx *commandContext) *cobra.Command {
	var flags backfillFlags

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Ingest historical call logs in time windows",
		Long: "Splits the requested range into --chunk-hours windows and ingests each one.\n" +
			"Windows run newest first unless --fifo is given. Failed windows are reported\n" +
			"and skipped so the rest of the range still lands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			start, end, err := resolveBackfillRange(flags, time.Now())
			if err != nil {
				return err
			}
			chunk := flags.chunkHours
			if chunk <= 0 {
				chunk = cfg.Ingest.BackfillChunkHours
			}
			delay := flags.delay
			if !cmd.Flags().Changed("delay") {
				delay = time.Duration(cfg.Ingest.BackfillDelaySeconds) * time.Second
			}
			order := backfill.LIFO
			if flags.fifo {
				order = backfill.FIFO
			}

			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      "console",
				OutputPaths: []string{"stderr"},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			return ctx.withStore(func(store *queue.Store) error {
				syncer, err := daemonrun.NewSyncer(cmd.Context(), cfg, store, logger)
				if err != nil {
					return err
				}
				runner := backfill.Runner{Fetch: syncer.Fetch, Delay: delay, Logger: logger}
				summary, runErr := runner.Run(cmd.Context(), start, end, time.Duration(chunk)*time.Hour, order)

				span := backfill.Window{Start: start, End: end}.String()
				notifier := notifications.NewService(cfg)
				if err := notifier.Publish(cmd.Context(), notifications.EventBackfillCompleted, notifications.Payload{
					"range":   span,
					"windows": summary.Windows,
					"failed":  summary.Failed,
					"calls":   summary.Records,
				}); err != nil {
					logger.Warn("backfill notification failed", logging.Error(err))
				}

				if ctx.jsonOutput() {
					if err := writeJSON(cmd, backfillReport(span, summary)); err != nil {
						return err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), renderTable(
						[]string{"Range", "Windows", "Succeeded", "Failed", "Calls"},
						[][]string{{span, strconv.Itoa(summary.Windows), strconv.Itoa(summary.Succeeded), strconv.Itoa(summary.Failed), strconv.Itoa(summary.Records)}},
						[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
					))
					for _, werr := range summary.Errors {
						fmt.Fprintf(cmd.OutOrStdout(), "  failed: %v\n", werr)
					}
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&flags.start, "start", "", "Range start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.end, "end", "", "Range end, exclusive (default now)")
	cmd.Flags().IntVar(&flags.hours, "hours", 0, "Backfill the last N hours")
	cmd.Flags().IntVar(&flags.days, "days", 0, "Backfill the last N days")
	cmd.Flags().IntVar(&flags.chunkHours, "chunk-hours", 0, "Window size in hours (default ingest.backfill_chunk_hours)")
	cmd.Flags().BoolVar(&flags.fifo, "fifo", false, "Process oldest windows first")
	cmd.Flags().DurationVar(&flags.delay, "delay", 0, "Pause between windows (default ingest.backfill_delay_seconds)")
	cmd.MarkFlagsMutuallyExclusive("hours", "days", "start")
	return cmd
}

// resolveBackfillRange turns the mutually exclusive range flags into a
// [start, end) pair relative to now.
func resolveBackfillRange(flags backfillFlags, now time.Time) (time.Time, time.Time, error) {
	end := now
	if strings.TrimSpace(flags.end) != "" {
		parsed, err := parseTimeFlag(flags.end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--end: %w", err)
		}
		end = parsed
	}
	switch {
	case flags.hours > 0:
		return end.Add(-time.Duration(flags.hours) * time.Hour), end, nil
	case flags.days > 0:
		return end.AddDate(0, 0, -flags.days), end, nil
	case strings.TrimSpace(flags.start) != "":
		start, err := parseTimeFlag(flags.start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--start: %w", err)
		}
		if !start.Before(end) {
			return time.Time{}, time.Time{}, fmt.Errorf("--start %s is not before --end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		return start, end, nil
	default:
		return time.Time{}, time.Time{}, errors.New("one of --hours, --days or --start is required")
	}
}

func parseTimeFlag(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation("2006-01-02", value, time.Local); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q (use RFC3339 or YYYY-MM-DD)", value)
}

func backfillReport(span string, summary backfill.Summary) map[string]any {
	errs := make([]string, 0, len(summary.Errors))
	for _, err := range summary.Errors {
		errs = append(errs, err.Error())
	}
	return map[string]any{
		"range":     span,
		"windows":   summary.Windows,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"calls":     summary.Records,
		"errors":    errs,
	}
}
