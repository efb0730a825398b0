package workers

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"curator/internal/logging"
)

// Manager owns the worker pool lifecycle and shutdown signaling.
type Manager struct {
	workers []*Worker
	logger  *slog.Logger

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// NewManager builds a manager over the provided workers.
func NewManager(logger *slog.Logger, workers ...*Worker) *Manager {
	return &Manager{
		workers:  workers,
		logger:   logging.NewComponentLogger(logger, "workers"),
		shutdown: make(chan struct{}),
	}
}

// StartAll launches every worker loop.
func (m *Manager) StartAll() {
	m.logger.Info("starting workers", logging.Int("count", len(m.workers)))
	for _, worker := range m.workers {
		worker.Start()
	}
}

// StopAll signals every worker and waits up to the grace period for each.
func (m *Manager) StopAll(grace time.Duration) {
	m.logger.Info("stopping workers")
	for _, worker := range m.workers {
		worker.Stop(grace)
	}
	m.logger.Info("all workers stopped")
}

// Shutdown requests a graceful shutdown.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdown)
	})
}

// ShuttingDown exposes the shutdown signal for other components.
func (m *Manager) ShuttingDown() <-chan struct{} {
	return m.shutdown
}

// InstallSignalHandlers wires SIGINT and SIGTERM to a graceful shutdown.
func (m *Manager) InstallSignalHandlers() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		m.logger.Info("received signal, shutting down", logging.String("signal", sig.String()))
		m.Shutdown()
	}()
}

// WaitForShutdown blocks until a shutdown is requested, then stops all
// workers with the grace period.
func (m *Manager) WaitForShutdown(grace time.Duration) {
	<-m.shutdown
	m.StopAll(grace)
}

// Health reports each worker's loop liveness by name.
func (m *Manager) Health() map[string]bool {
	health := make(map[string]bool, len(m.workers))
	for _, worker := range m.workers {
		health[worker.Name()] = worker.IsRunning()
	}
	return health
}
