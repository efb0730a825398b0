package config

const (
	defaultWatchDir             = "/watch"
	defaultDestinationDir       = "/destination"
	defaultErrorDir             = "/watch/errors"
	defaultDownloadDir          = "/watch/downloads"
	defaultLogDir               = "~/.local/share/curator/logs"
	defaultAPIBind              = "127.0.0.1:7787"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultIngestInterval       = 5
	defaultCatalogInterval      = 10
	defaultRetryInterval        = 30
	defaultDownloadInterval     = 5
	defaultStopGracePeriod      = 15
	defaultProactiveWindowHours = 4
	defaultReactiveCooldown     = 60
	defaultAuthCheckInterval    = 300
	defaultStabilityInterval    = 5
	defaultStabilityMinChecks   = 2
	defaultMaxRetries           = 3
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WatchDir:       defaultWatchDir,
			DestinationDir: defaultDestinationDir,
			ErrorDir:       defaultErrorDir,
			DownloadDir:    defaultDownloadDir,
			LogDir:         defaultLogDir,
			APIBind:        defaultAPIBind,
		},
		MetadataAPI: MetadataAPI{
			SearchOrder: []string{"missav", "javguru"},
		},
		Emby: Emby{
			ParentFolderID: "4",
			RetryDelays:    []int{2, 4, 8, 16, 32, 64},
		},
		Workers: Workers{
			IngestInterval:   defaultIngestInterval,
			CatalogInterval:  defaultCatalogInterval,
			RetryInterval:    defaultRetryInterval,
			DownloadInterval: defaultDownloadInterval,
			StopGracePeriod:  defaultStopGracePeriod,
		},
		Auth: Auth{
			ProactiveWindowHours: defaultProactiveWindowHours,
			ReactiveCooldown:     defaultReactiveCooldown,
			CheckInterval:        defaultAuthCheckInterval,
		},
		Stability: Stability{
			CheckInterval: defaultStabilityInterval,
			MinChecks:     defaultStabilityMinChecks,
		},
		Queue: Queue{
			MaxRetries:     defaultMaxRetries,
			BackoffMinutes: []int{1, 5, 15},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		VideoExtensions: []string{".mp4", ".mkv", ".avi", ".wmv"},
	}
}
