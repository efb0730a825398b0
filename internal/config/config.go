package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and API bind configuration.
type Paths struct {
	WatchDir       string `toml:"watch_dir"`
	DestinationDir string `toml:"destination_dir"`
	ErrorDir       string `toml:"error_dir"`
	DownloadDir    string `toml:"download_dir"`
	LogDir         string `toml:"log_dir"`
	APIBind        string `toml:"api_bind"`
	APIToken       string `toml:"api_token"`
}

// Database contains the queue database connection settings.
type Database struct {
	URL string `toml:"url"`
}

// MetadataAPI contains configuration for the metadata search service.
type MetadataAPI struct {
	BaseURL          string   `toml:"base_url"`
	Token            string   `toml:"token"`
	SearchOrder      []string `toml:"search_order"`
	RefreshURL       string   `toml:"refresh_url"`
	RefreshTokenFile string   `toml:"refresh_token_file"`
}

// Emby contains configuration for the Emby media server integration.
type Emby struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	UserID         string `toml:"user_id"`
	ParentFolderID string `toml:"parent_folder_id"`
	LibraryPath    string `toml:"library_path"`
	// RetryDelays is the poll schedule, in seconds, used while waiting for
	// Emby to index a freshly moved file.
	RetryDelays []int `toml:"retry_delays"`
}

// Workers contains poll intervals and shutdown timing for the worker pool.
type Workers struct {
	IngestInterval   int `toml:"ingest_interval"`
	CatalogInterval  int `toml:"catalog_interval"`
	RetryInterval    int `toml:"retry_interval"`
	DownloadInterval int `toml:"download_interval"`
	StopGracePeriod  int `toml:"stop_grace_period"`
}

// Auth contains token refresh timing for the credential manager.
type Auth struct {
	ProactiveWindowHours int `toml:"proactive_window_hours"`
	ReactiveCooldown     int `toml:"reactive_cooldown"`
	CheckInterval        int `toml:"check_interval"`
}

// Stability contains the file-stability polling settings for the watcher.
type Stability struct {
	CheckInterval int `toml:"check_interval"`
	MinChecks     int `toml:"min_checks"`
}

// Queue contains retry policy settings for the processing queue.
type Queue struct {
	MaxRetries     int   `toml:"max_retries"`
	BackoffMinutes []int `toml:"backoff_minutes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for curator.
//
// Configuration sections by subsystem:
//   - Paths: watched/destination/error directories and API bind address
//   - Database: Postgres connection for the shared queue
//   - MetadataAPI: movie metadata search service and token refresh endpoint
//   - Emby: media server scan/update integration
//   - Workers: poll intervals per pipeline stage
//   - Auth: shared bearer token refresh windows
//   - Stability: watcher file-stability detection
//   - Queue: retry backoff ladder and max attempts
//   - Logging: log format and level
type Config struct {
	Paths           Paths       `toml:"paths"`
	Database        Database    `toml:"database"`
	MetadataAPI     MetadataAPI `toml:"metadata_api"`
	Emby            Emby        `toml:"emby"`
	Workers         Workers     `toml:"workers"`
	Auth            Auth        `toml:"auth"`
	Stability       Stability   `toml:"stability"`
	Queue           Queue       `toml:"queue"`
	Logging         Logging     `toml:"logging"`
	VideoExtensions []string    `toml:"video_extensions"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/curator/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("curator.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The destination directory is created on a best-effort basis so the daemon
// can start when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WatchDir, c.Paths.ErrorDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.DestinationDir) != "" {
		_ = os.MkdirAll(c.Paths.DestinationDir, 0o755)
	}
	if strings.TrimSpace(c.Paths.DownloadDir) != "" {
		_ = os.MkdirAll(c.Paths.DownloadDir, 0o755)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
