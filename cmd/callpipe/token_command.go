package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"callpipe/internal/daemon"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the daemon API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			secret := strings.TrimSpace(cfg.API.Secret)
			if secret == "" {
				return errors.New("api.secret is not set; the API accepts unauthenticated loopback requests")
			}
			token, err := daemon.IssueToken(secret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject recorded in API request logs")
	cmd.Flags().DurationVar(&ttl, "ttl", daemon.DefaultTokenTTL, "Token lifetime")
	return cmd
}
