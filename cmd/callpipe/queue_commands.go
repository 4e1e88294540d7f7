package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"callpipe/internal/api"
	"callpipe/internal/queue"
)

const defaultListLimit = 50

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the call queue",
	}

	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRecoverCommand(ctx))
	queueCmd.AddCommand(newQueueClassifyCommand(ctx))
	queueCmd.AddCommand(newQueueReapCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	queueCmd.AddCommand(newQueueExportCommand(ctx))

	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show call counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := api.NewQueueService(store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				if stats.Total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					buildQueueStatsRows(stats.Counts),
					[]columnAlignment{alignLeft, alignRight},
					"total", strconv.Itoa(stats.Total),
				))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calls, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildListFilter(statuses, limit, offset)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				calls, err := api.NewQueueService(store).List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.CallListResponse{Calls: calls})
				}
				if len(calls) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No calls match")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "External ID", "Campaign", "Status", "Attempts", "Score", "Updated"},
					buildCallListRows(calls),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultListLimit, "Maximum calls to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many calls")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var showTranscript bool

	cmd := &cobra.Command{
		Use:   "show <call-id>",
		Short: "Show a single call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				call, err := api.NewQueueService(store).Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if call == nil {
					return fmt.Errorf("call %s not found", args[0])
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.CallResponse{Call: *call})
				}
				out := cmd.OutOrStdout()
				for _, line := range describeCall(*call) {
					fmt.Fprintln(out, line)
				}
				if showTranscript && call.Transcript != "" {
					fmt.Fprintln(out)
					fmt.Fprintln(out, call.Transcript)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showTranscript, "transcript", false, "Print the full transcript")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [call-id...]",
		Short: "Return failed calls to the pipeline with a fresh attempt budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("pass call ids or --all")
			}
			return ctx.withStore(func(store *queue.Store) error {
				retried, err := store.RetryFailed(cmd.Context(), args...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.RetryResponse{Retried: retried})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retried %d failed call(s)\n", retried)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every failed call")
	return cmd
}

func newQueueReapCommand(ctx *commandContext) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Reset calls whose claim outlived the zombie TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.ZombieTTL()
			}
			return ctx.withStore(func(store *queue.Store) error {
				reaped, err := store.ReapZombies(cmd.Context(), time.Now().Add(-ttl))
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"reaped": reaped, "ttl": ttl.String()})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d zombie call(s) older than %s\n", reaped, ttl)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Claim age considered dead (default workflow.zombie_ttl_minutes)")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"database": health, "queue": summary})
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderSectionHeader("Database", colorize))
				dbKind, dbMsg := statusOK, fmt.Sprintf("%s %s", health.Driver, health.Target)
				if !health.Reachable || !health.IntegrityCheck {
					dbKind = statusError
					dbMsg = strings.TrimSpace(dbMsg + " " + health.Error)
				}
				fmt.Fprintln(out, renderStatusLine("Connection", dbKind, dbMsg, colorize))
				fmt.Fprintln(out, renderStatusLine("Schema version", statusInfo, strconv.Itoa(health.SchemaVersion), colorize))
				fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
				fmt.Fprintln(out, renderStatusLine("Total", statusInfo, strconv.Itoa(summary.Total), colorize))
				fmt.Fprintln(out, renderStatusLine("Waiting", statusInfo, strconv.Itoa(summary.Waiting), colorize))
				fmt.Fprintln(out, renderStatusLine("In flight", statusInfo, strconv.Itoa(summary.InFlight), colorize))
				failedKind := statusOK
				if summary.Failed > 0 {
					failedKind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Failed", failedKind, strconv.Itoa(summary.Failed), colorize))
				return nil
			})
		},
	}
}

func buildListFilter(statuses []string, limit, offset int) (queue.ListFilter, error) {
	parsed, unknown := api.ParseStatuses(statuses)
	if len(unknown) > 0 {
		valid := make([]string, 0, len(queue.AllStatuses()))
		for _, status := range queue.AllStatuses() {
			valid = append(valid, string(status))
		}
		return queue.ListFilter{}, fmt.Errorf("unknown status %s (valid: %s)", strings.Join(unknown, ", "), strings.Join(valid, ", "))
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return queue.ListFilter{Statuses: parsed, Limit: limit, Offset: max(offset, 0)}, nil
}

func buildQueueStatsRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, status := range queue.AllStatuses() {
		count := counts[string(status)]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{string(status), strconv.Itoa(count)})
	}
	return rows
}

func buildCallListRows(calls []api.CallItem) [][]string {
	rows := make([][]string, 0, len(calls))
	for _, call := range calls {
		status := call.Status
		if call.Claimed {
			status += " (claimed)"
		}
		rows = append(rows, []string{
			call.ID,
			call.ExternalID,
			campaignLabel(call),
			status,
			strconv.Itoa(call.AttemptCount),
			scoreLabel(call.Quality),
			shortTime(call.UpdatedAt),
		})
	}
	return rows
}

func describeCall(call api.CallItem) []string {
	lines := []string{
		fmt.Sprintf("ID:          %s", call.ID),
		fmt.Sprintf("External ID: %s", call.ExternalID),
		fmt.Sprintf("Campaign:    %s", campaignLabel(call)),
		fmt.Sprintf("Status:      %s", call.Status),
		fmt.Sprintf("Attempts:    %d", call.AttemptCount),
		fmt.Sprintf("Claimed:     %s", yesNo(call.Claimed)),
	}
	if call.DurationSeconds != nil {
		lines = append(lines, fmt.Sprintf("Duration:    %ds", *call.DurationSeconds))
	}
	if call.BlobPath != "" {
		lines = append(lines, fmt.Sprintf("Audio:       %s", call.BlobPath))
	}
	if call.TranscriptChars > 0 {
		lines = append(lines, fmt.Sprintf("Transcript:  %d chars", call.TranscriptChars))
	}
	if q := call.Quality; q != nil {
		lines = append(lines, fmt.Sprintf("Quality:     %s (%s, model %s)", scoreLabel(q), q.Disposition, q.Model))
	}
	if call.SkipReason != "" {
		lines = append(lines, fmt.Sprintf("Skipped:     %s", call.SkipReason))
	}
	if call.LastError != "" {
		lines = append(lines, fmt.Sprintf("Last error:  %s", call.LastError))
	}
	lines = append(lines,
		fmt.Sprintf("Created:     %s", call.CreatedAt),
		fmt.Sprintf("Updated:     %s", call.UpdatedAt),
	)
	return lines
}

func campaignLabel(call api.CallItem) string {
	if call.CampaignName != "" {
		return call.CampaignName
	}
	return call.CampaignID
}

func scoreLabel(q *api.QualitySummary) string {
	switch {
	case q == nil:
		return ""
	case q.Skipped:
		return "skipped"
	default:
		return strconv.Itoa(q.Score)
	}
}

func shortTime(value string) string {
	ts := api.ParseTime(value)
	if ts.IsZero() {
		return value
	}
	return ts.Local().Format("2006-01-02 15:04")
}
