package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// claimNext atomically moves the oldest item in fromStatus to toStatus and
// returns it. SKIP LOCKED keeps concurrent claimers from racing on the same
// row; each item is handed out exactly once.
func (s *Store) claimNext(ctx context.Context, from, to Status) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE processing_queue
         SET status = $1, updated_at = NOW()
         WHERE id = (
             SELECT id FROM processing_queue
             WHERE status = $2
             ORDER BY created_at ASC
             LIMIT 1
             FOR UPDATE SKIP LOCKED
         )
         RETURNING `+itemColumns,
		to,
		from,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next %s: %w", from, err)
	}
	return item, nil
}

// ClaimNextPending claims the oldest pending item for ingest processing.
// Returns nil when the queue has no pending work.
func (s *Store) ClaimNextPending(ctx context.Context) (*Item, error) {
	return s.claimNext(ensureContext(ctx), StatusPending, StatusProcessing)
}

// ClaimNextMoved claims the oldest moved item for the catalog update stage.
func (s *Store) ClaimNextMoved(ctx context.Context) (*Item, error) {
	return s.claimNext(ensureContext(ctx), StatusMoved, StatusEmbyPending)
}

// ListRetryEligible returns errored items whose backoff has elapsed and whose
// retry budget is not exhausted, oldest-eligible first. Items without a
// next_retry_at stamp are never eligible.
func (s *Store) ListRetryEligible(ctx context.Context, limit int) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM processing_queue
         WHERE status = $1
           AND retry_count <= $2
           AND next_retry_at <= NOW()
         ORDER BY next_retry_at ASC
         LIMIT $3`,
		StatusError,
		s.maxRetries,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list retry eligible: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResetForRetry re-queues an errored item. When the file was already moved
// the item resumes at the catalog stage; otherwise it restarts the full
// pipeline. Returns nil when the item is absent, not errored, or out of
// retry budget.
func (s *Store) ResetForRetry(ctx context.Context, id int64) (*Item, error) {
	ctx = ensureContext(ctx)

	var newPath sql.NullString
	err := s.db.QueryRowContext(
		ctx,
		`SELECT new_path FROM processing_queue WHERE id = $1 AND status = $2`,
		id,
		StatusError,
	).Scan(&newPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check retry target: %w", err)
	}

	resumeStatus := StatusPending
	if newPath.Valid && newPath.String != "" {
		resumeStatus = StatusMoved
	}

	row := s.db.QueryRowContext(
		ctx,
		`UPDATE processing_queue
         SET status = $1, error_message = NULL, next_retry_at = NULL, updated_at = NOW()
         WHERE id = $2 AND status = $3 AND retry_count <= $4
         RETURNING `+itemColumns,
		resumeStatus,
		id,
		StatusError,
		s.maxRetries,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reset for retry: %w", err)
	}
	return item, nil
}

// ResetStuck rolls claimed-but-abandoned items back to their claimable
// status: processing older than the cutoff returns to pending, emby_pending
// to moved. Meant for the operator CLI after a crash, never run automatically.
// The cutoff is evaluated on the database clock so skew between the CLI host
// and Postgres cannot shift detection.
func (s *Store) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx = ensureContext(ctx)

	var total int64
	transitions := []struct {
		from Status
		to   Status
	}{
		{from: StatusProcessing, to: StatusPending},
		{from: StatusEmbyPending, to: StatusMoved},
	}
	for _, tr := range transitions {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE processing_queue
             SET status = $1, updated_at = NOW()
             WHERE status = $2 AND updated_at < NOW() - make_interval(secs => $3)`,
			tr.to,
			tr.from,
			olderThan.Seconds(),
		)
		if err != nil {
			return total, fmt.Errorf("reset stuck %s: %w", tr.from, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}
