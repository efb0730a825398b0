package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LatestToken returns the newest stored metadata-service token, or nil when
// the table is empty.
func (s *Store) LatestToken(ctx context.Context) (*AuthToken, error) {
	var token AuthToken
	err := s.db.QueryRowContext(
		ctx,
		`SELECT access_token, expires_at, created_at
         FROM auth_tokens
         ORDER BY created_at DESC
         LIMIT 1`,
	).Scan(&token.AccessToken, &token.ExpiresAt, &token.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest token: %w", err)
	}
	return &token, nil
}

// SaveToken appends a refreshed token. Older rows are kept so concurrent
// processes converge on the latest by created_at.
func (s *Store) SaveToken(ctx context.Context, accessToken string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO auth_tokens (access_token, expires_at) VALUES ($1, $2)`,
		accessToken,
		expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}
