package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EnqueueOption sets optional fields on a newly enqueued item.
type EnqueueOption func(*enqueueFields)

type enqueueFields struct {
	movieCode string
	performer string
	subtitle  string
}

// WithMovieCode pre-populates the extracted movie code.
func WithMovieCode(code string) EnqueueOption {
	return func(f *enqueueFields) { f.movieCode = code }
}

// WithPerformer pre-populates the performer name.
func WithPerformer(name string) EnqueueOption {
	return func(f *enqueueFields) { f.performer = name }
}

// WithSubtitle pre-populates the subtitle classification.
func WithSubtitle(subtitle string) EnqueueOption {
	return func(f *enqueueFields) { f.subtitle = subtitle }
}

// Enqueue inserts a file into the queue. Enqueueing a path that is already
// queued is a no-op that returns the existing row, whatever its status.
func (s *Store) Enqueue(ctx context.Context, filePath string, opts ...EnqueueOption) (*Item, error) {
	ctx = ensureContext(ctx)
	var fields enqueueFields
	for _, opt := range opts {
		opt(&fields)
	}

	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO processing_queue (file_path, movie_code, performer, subtitle)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (file_path) DO NOTHING
         RETURNING `+itemColumns,
		filePath,
		nullableString(fields.movieCode),
		nullableString(fields.performer),
		nullableString(fields.subtitle),
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetByFilePath(ctx, filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue item: %w", err)
	}
	return item, nil
}

// GetByID fetches a queue item by identifier. Returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM processing_queue WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetByFilePath fetches a queue item by its original file path.
func (s *Store) GetByFilePath(ctx context.Context, filePath string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM processing_queue WHERE file_path = $1`, filePath)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by path: %w", err)
	}
	return item, nil
}

// StatusUpdate sets an optional field alongside a status change.
type StatusUpdate func(*statusUpdateFields)

type statusUpdateFields struct {
	errorMessage *string
	newPath      *string
	embyItemID   *string
	metadataJSON *string
}

// WithErrorMessage records what went wrong.
func WithErrorMessage(message string) StatusUpdate {
	return func(f *statusUpdateFields) { f.errorMessage = &message }
}

// WithNewPath records the file's post-move location.
func WithNewPath(path string) StatusUpdate {
	return func(f *statusUpdateFields) { f.newPath = &path }
}

// WithEmbyItemID records the catalog item this file resolved to.
func WithEmbyItemID(id string) StatusUpdate {
	return func(f *statusUpdateFields) { f.embyItemID = &id }
}

// WithMetadataJSON records the raw metadata payload fetched for the item.
func WithMetadataJSON(raw string) StatusUpdate {
	return func(f *statusUpdateFields) { f.metadataJSON = &raw }
}

// ApplyUpdates applies status-update options to an in-memory item. Fakes
// standing in for the store use it to mirror UpdateStatus field handling.
func ApplyUpdates(item *Item, opts ...StatusUpdate) {
	var fields statusUpdateFields
	for _, opt := range opts {
		opt(&fields)
	}
	if fields.errorMessage != nil {
		item.ErrorMessage = *fields.errorMessage
	}
	if fields.newPath != nil {
		item.NewPath = *fields.newPath
	}
	if fields.embyItemID != nil {
		item.EmbyItemID = *fields.embyItemID
	}
	if fields.metadataJSON != nil {
		item.MetadataJSON = *fields.metadataJSON
	}
}

// UpdateStatus moves an item to a new status and applies any optional field
// updates. A transition to error increments retry_count and, while the retry
// budget lasts, stamps next_retry_at using the backoff ladder. Returns the
// updated row, or nil when the item does not exist.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status, opts ...StatusUpdate) (*Item, error) {
	ctx = ensureContext(ctx)
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var fields statusUpdateFields
	for _, opt := range opts {
		opt(&fields)
	}

	setClauses := []string{"status = $1", "updated_at = NOW()"}
	args := []any{status}
	appendSet := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, column+" = $"+strconv.Itoa(len(args)))
	}
	if fields.errorMessage != nil {
		appendSet("error_message", *fields.errorMessage)
	}
	if fields.newPath != nil {
		appendSet("new_path", *fields.newPath)
	}
	if fields.embyItemID != nil {
		appendSet("emby_item_id", *fields.embyItemID)
	}
	if fields.metadataJSON != nil {
		appendSet("metadata_json", *fields.metadataJSON)
	}
	if status == StatusError {
		setClauses = append(setClauses, "retry_count = retry_count + 1")
	}
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE processing_queue SET ` + strings.Join(setClauses, ", ") +
		` WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + itemColumns
	row := tx.QueryRowContext(ctx, query, args...)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	if status == StatusError && item.RetryCount <= s.maxRetries && len(s.backoff) > 0 {
		idx := item.RetryCount - 1
		if idx >= len(s.backoff) {
			idx = len(s.backoff) - 1
		}
		if idx < 0 {
			idx = 0
		}
		nextRetry := s.now().UTC().Add(s.backoff[idx])
		row := tx.QueryRowContext(
			ctx,
			`UPDATE processing_queue SET next_retry_at = $1 WHERE id = $2 RETURNING `+itemColumns,
			nextRetry,
			id,
		)
		if item, err = scanItem(row); err != nil {
			return nil, fmt.Errorf("stamp next retry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return item, nil
}

// SetClassification persists the extracted movie code, performer, and
// subtitle tag for an item.
func (s *Store) SetClassification(ctx context.Context, id int64, code, performer, subtitle string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE processing_queue
         SET movie_code = $1, performer = $2, subtitle = $3, updated_at = NOW()
         WHERE id = $4`,
		nullableString(code),
		nullableString(performer),
		nullableString(subtitle),
		id,
	)
	if err != nil {
		return fmt.Errorf("set classification: %w", err)
	}
	return nil
}

// List returns queue items filtered by status set, oldest first. With no
// statuses it returns everything.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM processing_queue`
	var args []any
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			args = append(args, status)
			placeholders[i] = "$" + strconv.Itoa(len(args))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
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

// Stats returns item counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(*) FROM processing_queue GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Remove deletes an item by identifier. Returns true when a row was removed.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processing_queue WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes completed items from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processing_queue WHERE status = $1`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}
