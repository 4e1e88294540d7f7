package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"callpipe/internal/config"
	"callpipe/internal/queue"
)

type globalFlags struct {
	config string
	apiURL string
	token  string
	json   bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.flags != nil {
			path = strings.TrimSpace(c.flags.config)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.flags != nil && c.flags.json
}

// withStore opens the queue database for the duration of fn.
func (c *commandContext) withStore(fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// apiClient returns a client for the daemon API using --api/--token, falling
// back to api.bind from the config and the CALLPIPE_TOKEN environment
// variable.
func (c *commandContext) apiClient() (*apiClient, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	base := strings.TrimSpace(c.flags.apiURL)
	if base == "" {
		bind := strings.TrimSpace(cfg.API.Bind)
		if bind == "" {
			return nil, fmt.Errorf("daemon API address unknown; set api.bind or pass --api")
		}
		if strings.HasPrefix(bind, ":") {
			bind = "127.0.0.1" + bind
		}
		base = "http://" + bind
	}
	token := strings.TrimSpace(c.flags.token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("CALLPIPE_TOKEN"))
	}
	return newAPIClient(base, token), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
