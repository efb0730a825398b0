package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateEmby(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/curator/config.toml"
		}
		return fmt.Errorf("database.url is required. Edit %s (create with 'curator config init')", defaultPath)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.WatchDir == "" {
		return errors.New("paths.watch_dir must be set")
	}
	if c.Paths.DestinationDir == "" {
		return errors.New("paths.destination_dir must be set")
	}
	if c.Paths.ErrorDir == "" {
		return errors.New("paths.error_dir must be set")
	}
	if len(c.VideoExtensions) == 0 {
		return errors.New("video_extensions must list at least one extension")
	}
	for _, ext := range c.VideoExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("video extension %q must start with a dot", ext)
		}
	}
	return nil
}

func (c *Config) validateEmby() error {
	if strings.TrimSpace(c.Emby.URL) == "" {
		return nil
	}
	if strings.TrimSpace(c.Emby.APIKey) == "" {
		return errors.New("emby.api_key must be set when emby.url is configured")
	}
	if len(c.Emby.RetryDelays) == 0 {
		return errors.New("emby.retry_delays must list at least one delay")
	}
	for _, delay := range c.Emby.RetryDelays {
		if delay <= 0 {
			return fmt.Errorf("emby.retry_delays entries must be positive, got %d", delay)
		}
	}
	return nil
}

func (c *Config) validateWorkers() error {
	intervals := map[string]int{
		"workers.ingest_interval":   c.Workers.IngestInterval,
		"workers.catalog_interval":  c.Workers.CatalogInterval,
		"workers.retry_interval":    c.Workers.RetryInterval,
		"workers.download_interval": c.Workers.DownloadInterval,
		"workers.stop_grace_period": c.Workers.StopGracePeriod,
	}
	for name, value := range intervals {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.ProactiveWindowHours <= 0 {
		return errors.New("auth.proactive_window_hours must be positive")
	}
	if c.Auth.ReactiveCooldown <= 0 {
		return errors.New("auth.reactive_cooldown must be positive")
	}
	if c.Auth.CheckInterval <= 0 {
		return errors.New("auth.check_interval must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxRetries < 0 {
		return errors.New("queue.max_retries must not be negative")
	}
	if len(c.Queue.BackoffMinutes) == 0 {
		return errors.New("queue.backoff_minutes must list at least one delay")
	}
	for _, minutes := range c.Queue.BackoffMinutes {
		if minutes <= 0 {
			return fmt.Errorf("queue.backoff_minutes entries must be positive, got %d", minutes)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
