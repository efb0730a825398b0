// Package workers runs the pipeline stages as polling loops over the queue.
package workers

import (
	"context"
	"log/slog"
	"time"

	"curator/internal/logging"
)

// Processor handles one unit of work per call. ProcessOne reports whether
// work was done so the loop can poll again immediately while the queue has
// items.
type Processor interface {
	Name() string
	ProcessOne(ctx context.Context) (bool, error)
}

// Worker drives a Processor on a poll loop.
type Worker struct {
	proc         Processor
	pollInterval time.Duration
	logger       *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWorker wraps a Processor with loop plumbing.
func NewWorker(proc Processor, pollInterval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		proc:         proc,
		pollInterval: pollInterval,
		logger:       logging.NewComponentLogger(logger, proc.Name()),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Name returns the processor name.
func (w *Worker) Name() string {
	return w.proc.Name()
}

// Start launches the poll loop.
func (w *Worker) Start() {
	go w.run()
	w.logger.Info("worker started")
}

// Stop signals the loop and waits up to timeout for it to exit.
func (w *Worker) Stop(timeout time.Duration) {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	select {
	case <-w.done:
	case <-time.After(timeout):
		w.logger.Warn("worker did not stop in time",
			logging.Duration("timeout", timeout))
	}
}

// IsRunning reports whether the loop is still alive.
func (w *Worker) IsRunning() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Worker) run() {
	defer close(w.done)
	ctx := context.Background()
	for {
		select {
		case <-w.stop:
			w.logger.Info("worker loop ended")
			return
		default:
		}

		didWork := w.cycle(ctx)
		if didWork {
			continue
		}
		select {
		case <-w.stop:
			w.logger.Info("worker loop ended")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// cycle runs one ProcessOne call, containing panics so a bad item cannot
// kill the loop.
func (w *Worker) cycle(ctx context.Context) (didWork bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker cycle panicked", logging.Any("panic", r))
			didWork = false
		}
	}()

	didWork, err := w.proc.ProcessOne(ctx)
	if err != nil {
		w.logger.Error("worker cycle failed", logging.Error(err))
	}
	return didWork
}
