package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"curator/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t   testing.TB
	cfg *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WatchDir = filepath.Join(base, "watch")
	cfgVal.Paths.DestinationDir = filepath.Join(base, "destination")
	cfgVal.Paths.ErrorDir = filepath.Join(base, "watch", "errors")
	cfgVal.Paths.DownloadDir = filepath.Join(base, "watch", "downloads")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Database.URL = os.Getenv("CURATOR_TEST_DATABASE_URL")

	for _, dir := range []string{
		cfgVal.Paths.WatchDir,
		cfgVal.Paths.DestinationDir,
		cfgVal.Paths.ErrorDir,
		cfgVal.Paths.DownloadDir,
		cfgVal.Paths.LogDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create test directory %s: %v", dir, err)
		}
	}

	builder := &configBuilder{t: t, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithDatabaseURL overrides the queue database connection string.
func WithDatabaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Database.URL = url
	}
}

// WithEmby points the config at a test Emby endpoint.
func WithEmby(url, apiKey string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Emby.URL = url
		b.cfg.Emby.APIKey = apiKey
	}
}

// WithMetadataAPI points the config at a test metadata service.
func WithMetadataAPI(baseURL, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.MetadataAPI.BaseURL = baseURL
		b.cfg.MetadataAPI.Token = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WatchDir)
}
