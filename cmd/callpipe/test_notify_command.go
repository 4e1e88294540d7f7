package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"callpipe/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	var viaDaemon bool

	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if viaDaemon {
				client, err := ctx.apiClient()
				if err != nil {
					return err
				}
				if err := client.post(cmd.Context(), "/api/notifications/test", nil, nil); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent by the daemon")
				return nil
			}
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
				return errors.New("notifications.ntfy_topic is not configured")
			}
			if err := notifications.NewService(cfg).Publish(cmd.Context(), notifications.EventTest, nil); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
	cmd.Flags().BoolVar(&viaDaemon, "daemon", false, "Ask the running daemon to send it")
	return cmd
}
