package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"callpipe/internal/preflight"
	"callpipe/internal/queue"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, binaries and upstream services before running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var results []preflight.Result
			err = ctx.withStore(func(store *queue.Store) error {
				results = append(results, preflight.CheckDatabase(cmd.Context(), store))
				return nil
			})
			if err != nil {
				results = append(results, preflight.Result{Name: "Queue database", Detail: err.Error()})
			}
			results = append(results, preflight.RunAll(cmd.Context(), cfg)...)
			if cfg.Ingest.Enabled {
				results = append(results, preflight.CheckCallLogFromConfig(cfg))
			}
			if cfg.Redis.URL != "" {
				results = append(results, preflight.CheckRedisFromConfig(cmd.Context(), cfg))
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}
			if err := preflight.Failures(results); err != nil {
				return errors.New("preflight failed")
			}
			return nil
		},
	}
}
