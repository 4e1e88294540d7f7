package main

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"callpipe/internal/api"
	"callpipe/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, lane and breaker status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var status api.DaemonStatus
			apiErr := client.get(cmd.Context(), "/api/status", &status)
			if apiErr == nil {
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				renderDaemonStatus(out, status, colorize)
				return nil
			}

			// The daemon is unreachable; the queue database can still be read.
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := api.NewQueueService(store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"running": false, "error": apiErr.Error(), "queue": stats})
				}
				fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
				fmt.Fprintln(out, renderStatusLine("callpipe", statusError, apiErr.Error(), colorize))
				fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
				for _, line := range queueStatusLines(stats.Counts, colorize) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

func renderDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("callpipe", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("callpipe", statusWarn, "Stopped", colorize))
	}
	if status.StartedAt != "" {
		fmt.Fprintln(out, renderStatusLine("Started", statusInfo, shortTime(status.StartedAt), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.Database, colorize))
	wf := status.Workflow
	if wf.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, wf.LastError, colorize))
	}
	if last := wf.LastCall; last != nil {
		msg := fmt.Sprintf("%s %s -> %s in %s", last.Lane, last.CallID, last.Status, time.Duration(last.DurationMs)*time.Millisecond)
		fmt.Fprintln(out, renderStatusLine("Last call", statusInfo, msg, colorize))
	}
	if wf.Reaped > 0 {
		fmt.Fprintln(out, renderStatusLine("Zombies reaped", statusWarn, strconv.FormatInt(wf.Reaped, 10), colorize))
	}

	fmt.Fprintln(out, renderSectionHeader("Lanes", colorize))
	health := make(map[string]api.LaneHealth, len(wf.LaneHealth))
	for _, h := range wf.LaneHealth {
		health[h.Name] = h
	}
	for _, lane := range wf.Lanes {
		kind := statusOK
		detail := fmt.Sprintf("claimed %d, completed %d, failed %d, released %d, dead-lettered %d",
			lane.Claimed, lane.Completed, lane.Failed, lane.Released, lane.DeadLettered)
		if h, ok := health[lane.Name]; ok && !h.Ready {
			kind = statusError
			detail = h.Detail
		}
		fmt.Fprintln(out, renderStatusLine(lane.Name, kind, detail, colorize))
	}

	if len(wf.Breakers) > 0 {
		fmt.Fprintln(out, renderSectionHeader("Breakers", colorize))
		for _, b := range wf.Breakers {
			fmt.Fprintln(out, renderStatusLine(b.Name, breakerKind(b.State), breakerDetail(b), colorize))
		}
	}

	fmt.Fprintln(out, renderSectionHeader("Queue", colorize))
	for _, line := range queueStatusLines(wf.QueueStats, colorize) {
		fmt.Fprintln(out, line)
	}
}

func queueStatusLines(counts map[string]int, colorize bool) []string {
	var lines []string
	for _, status := range queue.AllStatuses() {
		count := counts[string(status)]
		kind := statusInfo
		if status == queue.StatusFailed && count > 0 {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(string(status), kind, strconv.Itoa(count), colorize))
	}
	return lines
}

func breakerKind(state string) statusKind {
	switch state {
	case "closed":
		return statusOK
	case "half_open":
		return statusWarn
	default:
		return statusError
	}
}

func breakerDetail(b api.BreakerState) string {
	detail := fmt.Sprintf("%s, %d consecutive failure(s)", b.State, b.Failures)
	if b.OpenUntil != "" {
		detail += ", retry after " + shortTime(b.OpenUntil)
	}
	return detail
}

func newBreakerCommand(ctx *commandContext) *cobra.Command {
	breakerCmd := &cobra.Command{
		Use:   "breakers",
		Short: "Inspect and reset dependency circuit breakers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var resp api.BreakerListResponse
			if err := client.get(cmd.Context(), "/api/breakers", &resp); err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			if len(resp.Breakers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No breakers registered yet")
				return nil
			}
			sort.Slice(resp.Breakers, func(i, j int) bool { return resp.Breakers[i].Name < resp.Breakers[j].Name })
			rows := make([][]string, 0, len(resp.Breakers))
			for _, b := range resp.Breakers {
				rows = append(rows, []string{b.Name, b.State, strconv.Itoa(b.Failures), shortTime(b.OpenUntil), shortTime(b.LastFailure)})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Dependency", "State", "Failures", "Open Until", "Last Failure"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	breakerCmd.AddCommand(&cobra.Command{
		Use:   "reset <dependency>",
		Short: "Close a breaker so its lane resumes immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.post(cmd.Context(), "/api/breakers/"+url.PathEscape(args[0])+"/reset", nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Breaker %s reset\n", args[0])
			return nil
		},
	})
	return breakerCmd
}
