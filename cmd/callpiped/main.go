// Command callpiped runs the call pipeline daemon. It is the unit systemd
// starts; `callpipe run` is the same runtime for interactive use.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"callpipe/internal/config"
	"callpipe/internal/daemonrun"
)

func main() {
	if err := loadEnv(os.Getenv("CALLPIPE_ENV_FILE")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// loadEnv reads path, or ./.env when path is empty. Only an explicitly named
// file is required to exist.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	_ = godotenv.Load()
	return nil
}

func newCommand() *cobra.Command {
	var (
		configPath string
		opts       daemonrun.Options
	)
	cmd := &cobra.Command{
		Use:           "callpiped",
		Short:         "Call pipeline daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Diagnostic, "diagnostic", false, "Mirror debug-level JSON logs under log_dir/debug")
	return cmd
}
