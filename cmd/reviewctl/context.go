package main

import (
	"strings"

	"github.com/spf13/cobra"

	"review-queue/internal/app"
	"review-queue/internal/config"
	"review-queue/internal/logging"
)

type commandContext struct {
	configFlag *string
	logLevel   *string
}

func (c *commandContext) loadConfig() (config.Config, error) {
	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	return config.LoadFrom(path)
}

// withApp opens the configured backends for the duration of fn.
func (c *commandContext) withApp(cmd *cobra.Command, fn func(*app.App) error) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if c.logLevel != nil && *c.logLevel != "" {
		level = *c.logLevel
	}
	log, err := logging.New(logging.Options{Level: level, Format: "text", Output: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	a, err := app.Open(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
