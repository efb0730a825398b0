package queue

import (
	"context"
	"fmt"
)

// TruncateAll empties every table the store owns. Used by tests and the
// operator reset path; never called during normal operation.
func (s *Store) TruncateAll(ctx context.Context) error {
	ctx = ensureContext(ctx)
	for _, table := range []string{"processing_queue", "auth_tokens", "download_jobs"} {
		if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE `+table+` RESTART IDENTITY`); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
