// Package watcher detects new video files in the watch directory and hands
// stable ones to the queue.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/metrics"
)

// EnqueueFunc receives the path of a stable video file.
type EnqueueFunc func(ctx context.Context, filePath string) error

// Option adjusts watcher construction.
type Option func(*Watcher)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logging.NewComponentLogger(logger, "watcher") }
}

// WithSleepFunc overrides how the stability poller waits between size
// checks. Tests inject an instant sleep.
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Watcher) { w.sleep = sleep }
}

// Watcher monitors a single directory, non-recursively, for new video files.
// A file is only enqueued once its size has stopped changing, so partially
// copied files never enter the pipeline.
type Watcher struct {
	watchDir   string
	extensions map[string]struct{}
	skipDirs   []string

	stabilityInterval time.Duration
	stabilityChecks   int

	enqueue EnqueueFunc
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger

	mu sync.Mutex
	fw *fsnotify.Watcher
	wg sync.WaitGroup
}

// New builds a watcher over cfg's watch directory. Files landing in the
// error or download subdirectories are ignored even when those live under
// the watch directory.
func New(cfg *config.Config, enqueue EnqueueFunc, opts ...Option) *Watcher {
	extensions := make(map[string]struct{}, len(cfg.VideoExtensions))
	for _, ext := range cfg.VideoExtensions {
		extensions[strings.ToLower(ext)] = struct{}{}
	}

	w := &Watcher{
		watchDir:          cfg.Paths.WatchDir,
		extensions:        extensions,
		skipDirs:          []string{cfg.Paths.ErrorDir, cfg.Paths.DownloadDir},
		stabilityInterval: time.Duration(cfg.Stability.CheckInterval) * time.Second,
		stabilityChecks:   cfg.Stability.MinChecks,
		enqueue:           enqueue,
		sleep:             defaultSleep,
		logger:            logging.NewComponentLogger(slog.Default(), "watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start begins watching. It also sweeps files already sitting in the watch
// directory, so work dropped while the daemon was down is not missed. The
// event loop runs until ctx is canceled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	if err := fw.Add(w.watchDir); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", w.watchDir, err)
	}

	w.mu.Lock()
	w.fw = fw
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx, fw)

	w.logger.Info("watching directory", logging.String("dir", w.watchDir))
	w.sweepExisting(ctx)
	return nil
}

// Close stops the event loop and waits for in-flight stability checks.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw := w.fw
	w.fw = nil
	w.mu.Unlock()

	var err error
	if fw != nil {
		err = fw.Close()
	}
	w.wg.Wait()
	return err
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) {
				w.handle(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", logging.Error(err))
		}
	}
}

// sweepExisting enqueues video files already present in the watch directory.
func (w *Watcher) sweepExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		w.logger.Warn("initial sweep failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.handle(ctx, filepath.Join(w.watchDir, entry.Name()))
	}
}

func (w *Watcher) handle(ctx context.Context, filePath string) {
	if !w.wantsFile(filePath) {
		return
	}
	w.logger.Info("new file detected", logging.String("file", filepath.Base(filePath)))

	stable, err := w.waitUntilStable(ctx, filePath)
	if err != nil || !stable {
		return
	}
	if err := w.enqueue(ctx, filePath); err != nil {
		w.logger.Error("enqueue failed", logging.String("file", filePath), logging.Error(err))
		return
	}
	metrics.FilesDetected.Inc()
}

func (w *Watcher) wantsFile(filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		return false
	}
	for _, dir := range w.skipDirs {
		if dir != "" && strings.HasPrefix(filePath, dir+string(filepath.Separator)) {
			return false
		}
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	if _, ok := w.extensions[ext]; !ok {
		w.logger.Debug("skipping non-video file", logging.String("file", filepath.Base(filePath)))
		return false
	}
	return true
}

// waitUntilStable polls the file size until it holds steady for the
// configured number of checks. Returns false when the file disappears.
func (w *Watcher) waitUntilStable(ctx context.Context, filePath string) (bool, error) {
	stableCount := 0
	lastSize := int64(-1)

	for stableCount < w.stabilityChecks {
		info, err := os.Stat(filePath)
		if err != nil {
			w.logger.Warn("file disappeared during stability check",
				logging.String("file", filePath))
			return false, nil
		}

		if info.Size() == lastSize {
			stableCount++
		} else {
			stableCount = 0
		}
		lastSize = info.Size()

		if stableCount < w.stabilityChecks {
			if err := w.sleep(ctx, w.stabilityInterval); err != nil {
				return false, err
			}
		}
	}

	w.logger.Info("file stable",
		logging.String("file", filepath.Base(filePath)),
		logging.Int64("bytes", lastSize))
	return true, nil
}
