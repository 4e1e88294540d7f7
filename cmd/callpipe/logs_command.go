package main

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"callpipe/internal/api"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		follow bool
		limit  int
		lane   string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var since uint64
			for {
				query := url.Values{}
				query.Set("since", strconv.FormatUint(since, 10))
				query.Set("limit", strconv.Itoa(limit))
				if follow && since > 0 {
					query.Set("follow", "1")
				}
				var page api.LogStreamResponse
				if err := client.get(cmd.Context(), "/api/logs?"+query.Encode(), &page); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				for _, evt := range page.Events {
					if lane != "" && evt.Lane != lane {
						continue
					}
					if ctx.jsonOutput() {
						if err := writeJSON(cmd, evt); err != nil {
							return err
						}
						continue
					}
					printLogEvent(out, evt)
				}
				since = max(page.Next, since)
				if !follow {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&limit, "limit", "n", 200, "Events per fetch")
	cmd.Flags().StringVar(&lane, "lane", "", "Only show events for this lane")
	return cmd
}

func printLogEvent(out io.Writer, evt api.LogEvent) {
	var b strings.Builder
	b.WriteString(shortTime(evt.Timestamp))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(evt.Level)))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	b.WriteString(" " + evt.Message)
	if evt.CallID != "" {
		b.WriteString(" call=" + evt.CallID)
	}
	fmt.Fprintln(out, b.String())
}
