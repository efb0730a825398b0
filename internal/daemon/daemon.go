// Package daemon wires the watcher, worker pool, credential manager, and
// management API into a single lifecycle with flock-based locking to prevent
// multiple instances from sharing a watch directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"curator/internal/api"
	"curator/internal/auth"
	"curator/internal/config"
	"curator/internal/downloads"
	"curator/internal/logging"
	"curator/internal/metadata"
	"curator/internal/queue"
	"curator/internal/services/emby"
	"curator/internal/watcher"
	"curator/internal/workers"
)

// Daemon owns the background services.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store

	tokens   *auth.Manager
	emby     *emby.Client
	watcher  *watcher.Watcher
	workers  *workers.Manager
	server   *api.Server
	grace    time.Duration
	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		grace:    time.Duration(cfg.Workers.StopGracePeriod) * time.Second,
		lockPath: filepath.Join(cfg.Paths.LogDir, "curator.lock"),
	}
	d.lock = flock.New(d.lockPath)

	d.tokens = auth.NewManager(cfg, store, auth.WithLogger(logger))

	search := metadata.NewClient(cfg.MetadataAPI.BaseURL, cfg.MetadataAPI.SearchOrder,
		metadata.WithTokenSource(d.tokens),
		metadata.WithLogger(logger))

	if cfg.Emby.URL != "" {
		d.emby = emby.NewClient(cfg,
			emby.WithImageTokenSource(d.tokens, metadataHost(cfg.MetadataAPI.BaseURL)),
			emby.WithLogger(logger))
	}

	pool := []*workers.Worker{
		workers.NewWorker(
			workers.NewIngestProcessor(store, search, cfg.Paths.DestinationDir, cfg.Paths.ErrorDir, logger),
			time.Duration(cfg.Workers.IngestInterval)*time.Second, logger),
		workers.NewWorker(
			workers.NewRetryProcessor(store, logger),
			time.Duration(cfg.Workers.RetryInterval)*time.Second, logger),
		workers.NewWorker(
			downloads.NewProcessor(store, cfg.Paths.DownloadDir, downloads.WithLogger(logger)),
			time.Duration(cfg.Workers.DownloadInterval)*time.Second, logger),
	}
	if d.emby != nil {
		pool = append(pool, workers.NewWorker(
			workers.NewCatalogProcessor(store, d.emby, logger),
			time.Duration(cfg.Workers.CatalogInterval)*time.Second, logger))
	}
	d.workers = workers.NewManager(logger, pool...)

	d.watcher = watcher.New(cfg, func(ctx context.Context, filePath string) error {
		_, err := store.Enqueue(ctx, filePath)
		return err
	}, watcher.WithLogger(logger))

	serverOpts := []api.Option{
		api.WithWorkerHealth(d.workers.Health),
		api.WithAuthExpiry(d.tokens.ExpiresAt),
		api.WithLogger(logger),
	}
	if d.emby != nil {
		serverOpts = append(serverOpts, api.WithScanner(d.emby))
	}
	d.server = api.NewServer(cfg, store, serverOpts...)

	return d, nil
}

// metadataHost extracts the host that image downloads authenticate against.
func metadataHost(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// Start acquires the instance lock, recovers state left by a previous run,
// and launches every service.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another curator instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.recover(runCtx); err != nil {
		d.release()
		return err
	}

	if err := d.tokens.Initialize(runCtx); err != nil {
		d.release()
		return fmt.Errorf("initialize token manager: %w", err)
	}

	if err := d.server.Start(); err != nil {
		d.tokens.Close()
		d.release()
		return err
	}

	d.workers.StartAll()
	d.workers.InstallSignalHandlers()

	if err := d.watcher.Start(runCtx); err != nil {
		d.stopServices()
		d.release()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.Addr()),
		logging.Bool("emby_enabled", d.emby != nil))
	return nil
}

// recover fails download jobs orphaned by a previous process. Queue items
// stuck in a claimed status are left alone; returning those is an operator
// decision (queue reset --stuck).
func (d *Daemon) recover(ctx context.Context) error {
	recovered, err := d.store.RecoverStaleDownloads(ctx)
	if err != nil {
		return fmt.Errorf("recover stale downloads: %w", err)
	}
	if recovered > 0 {
		d.logger.Info("recovered stale download jobs", logging.Int64("count", recovered))
	}
	return nil
}

// Wait blocks until a shutdown signal arrives, then stops everything.
func (d *Daemon) Wait() {
	d.workers.WaitForShutdown(d.grace)
	d.Stop()
}

// Stop shuts the services down in reverse start order and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.stopServices()
	d.release()
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

func (d *Daemon) stopServices() {
	if err := d.watcher.Close(); err != nil {
		d.logger.Warn("watcher close failed", logging.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.grace)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown failed", logging.Error(err))
	}

	d.workers.Shutdown()
	d.workers.StopAll(d.grace)
	d.tokens.Close()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Daemon) release() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Close stops the daemon and closes the queue store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// APIAddr returns the management API address, empty before Start.
func (d *Daemon) APIAddr() string {
	return d.server.Addr()
}
