package main

import (
	"io"
	"log/slog"

	"github.com/epgsync/epg-sync/internal/config"
	"github.com/epgsync/epg-sync/internal/logging"
)

// commandContext lazily loads configuration and the logger so that commands
// share one Config instance and the log file is opened once.
type commandContext struct {
	configFlag  *string
	envFileFlag *string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newCommandContext(configFlag, envFileFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, envFileFlag: envFileFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, *slog.Logger, error) {
	if c.cfg != nil {
		return c.cfg, c.logger, nil
	}
	if *c.envFileFlag != "" {
		if err := config.LoadEnvFile(*c.envFileFlag); err != nil {
			return nil, nil, err
		}
	}
	flat, err := config.LoadFile(*c.configFlag)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.FromMap(flat)
	if err != nil {
		return nil, nil, err
	}
	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, LogFile: cfg.LogFile})
	if err != nil {
		return nil, nil, err
	}
	c.cfg, c.logger, c.logCloser = cfg, logger, closer
	return cfg, logger, nil
}

func (c *commandContext) close() {
	if c.logCloser != nil {
		c.logCloser.Close()
	}
}
