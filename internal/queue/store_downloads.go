package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const downloadColumns = "id, url, filename, status, error, output_tail, started_at, finished_at, created_at"

// AddDownload inserts a new download job in the queued state.
func (s *Store) AddDownload(ctx context.Context, url, filename string) (*DownloadJob, error) {
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO download_jobs (url, filename) VALUES ($1, $2) RETURNING `+downloadColumns,
		url,
		nullableString(filename),
	)
	job, err := scanDownload(row)
	if err != nil {
		return nil, fmt.Errorf("add download: %w", err)
	}
	return job, nil
}

// GetDownload fetches a download job by identifier.
func (s *Store) GetDownload(ctx context.Context, id int64) (*DownloadJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM download_jobs WHERE id = $1`, id)
	job, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get download: %w", err)
	}
	return job, nil
}

// ListDownloads returns recent download jobs, newest first.
func (s *Store) ListDownloads(ctx context.Context, limit int) ([]*DownloadJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+downloadColumns+` FROM download_jobs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var jobs []*DownloadJob
	for rows.Next() {
		job, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNextDownload atomically moves the oldest queued download job to
// downloading and stamps started_at. Returns nil when nothing is queued.
func (s *Store) ClaimNextDownload(ctx context.Context) (*DownloadJob, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE download_jobs
         SET status = $1, started_at = NOW()
         WHERE id = (
             SELECT id FROM download_jobs
             WHERE status = $2
             ORDER BY created_at ASC
             LIMIT 1
             FOR UPDATE SKIP LOCKED
         )
         RETURNING `+downloadColumns,
		DownloadDownloading,
		DownloadQueued,
	)
	job, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next download: %w", err)
	}
	return job, nil
}

// DownloadUpdate sets an optional field alongside a download status change.
type DownloadUpdate func(*downloadUpdateFields)

type downloadUpdateFields struct {
	status     *DownloadStatus
	errMessage *string
	outputTail *string
	finishedAt *time.Time
}

// WithDownloadStatus changes the job status.
func WithDownloadStatus(status DownloadStatus) DownloadUpdate {
	return func(f *downloadUpdateFields) { f.status = &status }
}

// WithDownloadError records the failure detail.
func WithDownloadError(message string) DownloadUpdate {
	return func(f *downloadUpdateFields) { f.errMessage = &message }
}

// WithOutputTail records the last lines of downloader output as JSON.
func WithOutputTail(tail string) DownloadUpdate {
	return func(f *downloadUpdateFields) { f.outputTail = &tail }
}

// WithFinishedAt stamps the completion time.
func WithFinishedAt(t time.Time) DownloadUpdate {
	return func(f *downloadUpdateFields) { f.finishedAt = &t }
}

// ApplyDownloadUpdates applies download-update options to an in-memory job.
// Fakes standing in for the store use it to mirror UpdateDownload field
// handling.
func ApplyDownloadUpdates(job *DownloadJob, opts ...DownloadUpdate) {
	var fields downloadUpdateFields
	for _, opt := range opts {
		opt(&fields)
	}
	if fields.status != nil {
		job.Status = *fields.status
	}
	if fields.errMessage != nil {
		job.Error = *fields.errMessage
	}
	if fields.outputTail != nil {
		job.OutputTail = *fields.outputTail
	}
	if fields.finishedAt != nil {
		t := fields.finishedAt.UTC()
		job.FinishedAt = &t
	}
}

// UpdateDownload applies field updates to a download job. With no updates it
// simply returns the current row.
func (s *Store) UpdateDownload(ctx context.Context, id int64, opts ...DownloadUpdate) (*DownloadJob, error) {
	ctx = ensureContext(ctx)
	var fields downloadUpdateFields
	for _, opt := range opts {
		opt(&fields)
	}

	var (
		setClauses []string
		args       []any
	)
	appendSet := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, column+" = $"+strconv.Itoa(len(args)))
	}
	if fields.status != nil {
		appendSet("status", *fields.status)
	}
	if fields.errMessage != nil {
		appendSet("error", *fields.errMessage)
	}
	if fields.outputTail != nil {
		appendSet("output_tail", *fields.outputTail)
	}
	if fields.finishedAt != nil {
		appendSet("finished_at", fields.finishedAt.UTC())
	}
	if len(setClauses) == 0 {
		return s.GetDownload(ctx, id)
	}
	args = append(args, id)

	row := s.db.QueryRowContext(
		ctx,
		`UPDATE download_jobs SET `+strings.Join(setClauses, ", ")+
			` WHERE id = $`+strconv.Itoa(len(args))+` RETURNING `+downloadColumns,
		args...,
	)
	job, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update download: %w", err)
	}
	return job, nil
}

// CleanupOldDownloads deletes finished jobs older than the retention window.
// The cutoff is evaluated on the database clock, same as ResetStuck.
func (s *Store) CleanupOldDownloads(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx = ensureContext(ctx)
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM download_jobs
         WHERE status IN ($1, $2) AND created_at < NOW() - make_interval(secs => $3)`,
		DownloadCompleted,
		DownloadFailed,
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup downloads: %w", err)
	}
	return res.RowsAffected()
}

// RecoverStaleDownloads fails any job left queued or downloading by a
// previous process. Run once at daemon startup.
func (s *Store) RecoverStaleDownloads(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE download_jobs
         SET status = $1, error = $2, finished_at = NOW()
         WHERE status IN ($3, $4)`,
		DownloadFailed,
		"daemon restarted during download",
		DownloadQueued,
		DownloadDownloading,
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale downloads: %w", err)
	}
	return res.RowsAffected()
}
