package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"callpipe/internal/api"
	"callpipe/internal/queue"
	"callpipe/internal/report"
	"callpipe/internal/retry"
)

const scanPageSize = 500

type recoverResult struct {
	Scanned     int               `json:"scanned"`
	Recoverable int               `json:"recoverable"`
	Applied     bool              `json:"applied"`
	Retried     int64             `json:"retried"`
	Calls       []recoverCallView `json:"calls"`
}

type recoverCallView struct {
	ID          string `json:"id"`
	Attempts    int    `json:"attempts"`
	Recoverable bool   `json:"recoverable"`
	Target      string `json:"target,omitempty"`
	Reason      string `json:"reason"`
	LastError   string `json:"lastError,omitempty"`
}

func newQueueRecoverCommand(ctx *commandContext) *cobra.Command {
	var (
		apply       bool
		force       bool
		storageOnly bool
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Classify failed calls and retry the recoverable ones",
		Long: "Scans failed calls, classifies their last error and reports which ones would be\n" +
			"handed back to the pipeline. Nothing changes unless --apply is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := retry.RecoverOptions{MaxAttempts: cfg.Workflow.MaxAttempts, Force: force, StorageOnly: storageOnly}
			return ctx.withStore(func(store *queue.Store) error {
				result, err := recoverFailed(cmd.Context(), store, opts, limit, apply)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				if result.Scanned == 0 {
					fmt.Fprintln(out, "No failed calls")
					return nil
				}
				rows := make([][]string, 0, len(result.Calls))
				for _, call := range result.Calls {
					rows = append(rows, []string{call.ID, strconv.Itoa(call.Attempts), yesNo(call.Recoverable), call.Target, call.Reason})
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Attempts", "Recover", "Target", "Reason"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				if result.Applied {
					fmt.Fprintf(out, "Retried %d of %d failed call(s)\n", result.Retried, result.Scanned)
				} else {
					fmt.Fprintf(out, "%d of %d failed call(s) recoverable; rerun with --apply to retry them\n", result.Recoverable, result.Scanned)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Retry recoverable calls instead of only reporting them")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the attempt ceiling")
	cmd.Flags().BoolVar(&storageOnly, "storage-only", false, "Only recover calls whose audio is already stored")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Stop after scanning this many failed calls (0 = all)")
	return cmd
}

func recoverFailed(ctx context.Context, store *queue.Store, opts retry.RecoverOptions, limit int, apply bool) (recoverResult, error) {
	failed, err := listAll(ctx, store, []queue.Status{queue.StatusFailed}, limit)
	if err != nil {
		return recoverResult{}, err
	}
	result := recoverResult{Scanned: len(failed), Calls: make([]recoverCallView, 0, len(failed))}
	var ids []string
	for _, call := range failed {
		a := retry.Assess(call, opts)
		view := recoverCallView{
			ID:          call.ID,
			Attempts:    call.AttemptCount,
			Recoverable: a.Recoverable,
			Reason:      a.Reason,
			LastError:   call.LastError,
		}
		if a.Recoverable {
			view.Target = string(a.Target)
			ids = append(ids, call.ID)
		}
		result.Calls = append(result.Calls, view)
	}
	result.Recoverable = len(ids)
	if apply && len(ids) > 0 {
		retried, err := store.RetryFailed(ctx, ids...)
		if err != nil {
			return result, fmt.Errorf("retry recoverable calls: %w", err)
		}
		result.Applied = true
		result.Retried = retried
	}
	return result, nil
}

func newQueueClassifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [error message]",
		Short: "Group failed calls by error classification, or classify a single message",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				c := retry.Classify(strings.Join(args, " "))
				if ctx.jsonOutput() {
					return writeJSON(cmd, c)
				}
				fmt.Fprintf(out, "Recoverable: %s\nReason:      %s\n", yesNo(c.Recoverable), c.Reason)
				return nil
			}
			return ctx.withStore(func(store *queue.Store) error {
				failed, err := listAll(cmd.Context(), store, []queue.Status{queue.StatusFailed}, 0)
				if err != nil {
					return err
				}
				groups := classifyGroups(failed)
				if ctx.jsonOutput() {
					return writeJSON(cmd, groups)
				}
				if len(groups) == 0 {
					fmt.Fprintln(out, "No failed calls")
					return nil
				}
				rows := make([][]string, 0, len(groups))
				for _, g := range groups {
					rows = append(rows, []string{g.Reason, yesNo(g.Recoverable), strconv.Itoa(g.Count)})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Classification", "Recoverable", "Calls"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
					"total", "", strconv.Itoa(len(failed)),
				))
				return nil
			})
		},
	}
}

type classifyGroup struct {
	Reason      string `json:"reason"`
	Recoverable bool   `json:"recoverable"`
	Count       int    `json:"count"`
}

func classifyGroups(calls []*queue.Call) []classifyGroup {
	byReason := make(map[string]*classifyGroup)
	for _, call := range calls {
		c := retry.Classify(call.LastError)
		g, ok := byReason[c.Reason]
		if !ok {
			g = &classifyGroup{Reason: c.Reason, Recoverable: c.Recoverable}
			byReason[c.Reason] = g
		}
		g.Count++
	}
	groups := make([]classifyGroup, 0, len(byReason))
	for _, g := range byReason {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Reason < groups[j].Reason
	})
	return groups
}

func newQueueExportCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "export <file.xlsx>",
		Short: "Export calls and per-status counts to an Excel workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, unknown := api.ParseStatuses(statuses)
			if len(unknown) > 0 {
				return fmt.Errorf("unknown status %s", strings.Join(unknown, ", "))
			}
			target := args[0]
			if !strings.EqualFold(filepath.Ext(target), ".xlsx") {
				target += ".xlsx"
			}
			return ctx.withStore(func(store *queue.Store) error {
				calls, err := listAll(cmd.Context(), store, parsed, limit)
				if err != nil {
					return err
				}
				stats, err := api.NewQueueService(store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				if err := report.WriteWorkbook(target, report.Snapshot{Calls: api.FromCalls(calls), Counts: stats.Counts}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d call(s) to %s\n", len(calls), target)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only export calls in these statuses")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum calls to export (0 = all)")
	return cmd
}

// listAll pages through the queue until it is exhausted or limit calls have
// been read.
func listAll(ctx context.Context, store *queue.Store, statuses []queue.Status, limit int) ([]*queue.Call, error) {
	var out []*queue.Call
	for offset := 0; ; offset += scanPageSize {
		page := scanPageSize
		if limit > 0 {
			page = min(page, limit-len(out))
		}
		calls, err := store.List(ctx, queue.ListFilter{Statuses: statuses, Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, calls...)
		if len(calls) < page || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
	}
}
