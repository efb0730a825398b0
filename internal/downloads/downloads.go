// Package downloads runs queued yt-dlp jobs and records their output in the
// download_jobs table.
package downloads

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"curator/internal/logging"
	"curator/internal/queue"
)

const (
	// downloadTimeout bounds a single yt-dlp run.
	downloadTimeout = 30 * time.Minute
	// flushInterval is how often in-flight output is persisted.
	flushInterval = 5 * time.Second
	// tailLines is how many trailing output lines are kept per job.
	tailLines = 50

	defaultCommand = "yt-dlp"
)

// Store is the queue surface the download stage needs.
type Store interface {
	ClaimNextDownload(ctx context.Context) (*queue.DownloadJob, error)
	UpdateDownload(ctx context.Context, id int64, opts ...queue.DownloadUpdate) (*queue.DownloadJob, error)
}

// Option adjusts processor construction.
type Option func(*Processor)

// WithCommand overrides the downloader binary. Tests point this at a stub.
func WithCommand(command string) Option {
	return func(p *Processor) { p.command = command }
}

// WithTimeout overrides the per-job run timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Processor) { p.timeout = timeout }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logging.NewComponentLogger(logger, "download") }
}

// Processor claims queued download jobs and runs them one at a time.
type Processor struct {
	store       Store
	downloadDir string
	command     string
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewProcessor builds the download-stage processor. Files land in
// downloadDir, which sits under the watch directory so finished downloads do
// not re-enter the pipeline by accident.
func NewProcessor(store Store, downloadDir string, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		downloadDir: downloadDir,
		command:     defaultCommand,
		timeout:     downloadTimeout,
		now:         time.Now,
		logger:      logging.NewComponentLogger(slog.Default(), "download"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements workers.Processor.
func (p *Processor) Name() string { return "download" }

// ProcessOne claims and runs a single queued download job.
func (p *Processor) ProcessOne(ctx context.Context) (bool, error) {
	job, err := p.store.ClaimNextDownload(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	p.logger.Info("starting download",
		logging.Int64("job_id", job.ID), logging.String("url", job.URL))
	p.run(ctx, job)
	return true, nil
}

func (p *Processor) run(ctx context.Context, job *queue.DownloadJob) {
	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"--newline", "--no-progress", "-P", p.downloadDir}
	if job.Filename != "" {
		args = append(args, "-o", job.Filename)
	}
	args = append(args, job.URL)

	cmd := exec.CommandContext(runCtx, p.command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.finish(ctx, job.ID, nil, fmt.Errorf("pipe downloader output: %w", err))
		return
	}
	// yt-dlp logs to both streams; interleave them.
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		p.finish(ctx, job.ID, nil, fmt.Errorf("start downloader: %w", err))
		return
	}

	tail := p.streamOutput(ctx, job.ID, stdout)
	err = cmd.Wait()

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		p.finish(ctx, job.ID, tail, fmt.Errorf("timed out after %s", p.timeout))
		return
	}
	if err != nil {
		p.finish(ctx, job.ID, tail, fmt.Errorf("downloader failed: %w", err))
		return
	}
	p.finish(ctx, job.ID, tail, nil)
}

// streamOutput reads downloader output line by line, keeping the trailing
// window and flushing it to the store periodically so the API can show
// progress for active jobs.
func (p *Processor) streamOutput(ctx context.Context, jobID int64, r io.Reader) []string {
	var tail []string
	lastFlush := p.now()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}

		if p.now().Sub(lastFlush) >= flushInterval {
			if _, err := p.store.UpdateDownload(ctx, jobID,
				queue.WithOutputTail(marshalTail(tail))); err != nil {
				p.logger.Warn("flush output failed",
					logging.Int64("job_id", jobID), logging.Error(err))
			}
			lastFlush = p.now()
		}
	}
	return tail
}

// finish records the terminal state for a job.
func (p *Processor) finish(ctx context.Context, jobID int64, tail []string, runErr error) {
	updates := []queue.DownloadUpdate{
		queue.WithFinishedAt(p.now().UTC()),
	}
	if len(tail) > 0 {
		updates = append(updates, queue.WithOutputTail(marshalTail(tail)))
	}
	if runErr != nil {
		p.logger.Warn("download failed",
			logging.Int64("job_id", jobID), logging.Error(runErr))
		updates = append(updates,
			queue.WithDownloadStatus(queue.DownloadFailed),
			queue.WithDownloadError(runErr.Error()))
	} else {
		p.logger.Info("download completed", logging.Int64("job_id", jobID))
		updates = append(updates, queue.WithDownloadStatus(queue.DownloadCompleted))
	}
	if _, err := p.store.UpdateDownload(ctx, jobID, updates...); err != nil {
		p.logger.Error("record download result failed",
			logging.Int64("job_id", jobID), logging.Error(err))
	}
}

// marshalTail encodes the output window as the JSON array stored in
// download_jobs.output_tail.
func marshalTail(tail []string) string {
	encoded, err := json.Marshal(tail)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
