package main

import (
	"context"
	"fmt"

	"curator/internal/config"
	"curator/internal/queue"
)

// commandContext caches the loaded configuration across subcommands.
type commandContext struct {
	configFlag *string

	cfg        *config.Config
	configPath string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the configuration once and caches it.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, path, _, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.configPath = path
	return cfg, nil
}

// withStore opens the queue store for the duration of fn. Queue commands
// talk to Postgres directly; the shared database is the coordination point,
// so they work whether or not the daemon is running.
func (c *commandContext) withStore(ctx context.Context, fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to queue database: %w", err)
	}
	defer store.Close()
	return fn(store)
}
