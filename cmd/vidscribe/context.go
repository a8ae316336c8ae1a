package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vrsandeep/vidscribe/internal/config"
	"github.com/vrsandeep/vidscribe/internal/logging"
	"github.com/vrsandeep/vidscribe/internal/session"
)

// commandContext carries the persistent flags and lazily loads the config.
type commandContext struct {
	configFlag string
	logLevel   string
	serverFlag string

	config *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	cfg, err := config.Load(c.configFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.serverFlag != "" {
		cfg.Server.URL = c.serverFlag
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	c.config = cfg
	return cfg, nil
}

// logger writes to the command's stderr so tables on stdout stay clean.
func (c *commandContext) logger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{Level: cfg.Log.Level, Output: cmd.ErrOrStderr()})
}

// withSession builds a session for one command. The event stream is not
// opened; commands that need it connect themselves.
func (c *commandContext) withSession(cmd *cobra.Command, fn func(*session.Session) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	log, err := c.logger(cmd, cfg)
	if err != nil {
		return err
	}
	s, err := session.New(cfg, session.Options{Logger: log})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
