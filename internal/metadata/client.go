// Package metadata queries the movie metadata service for details about an
// extracted movie code.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"curator/internal/logging"
)

// searchEndpoints maps source names to their REST paths. Sources are tried
// in the configured order; the first hit wins.
var searchEndpoints = map[string]string{
	"missav":  "/missav/search",
	"javguru": "/javguru/search",
}

// HTTPDoer abstracts the HTTP client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token for metadata requests. Implemented
// by the credential manager; a static token works through StaticToken.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() string { return string(t) }

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for search calls.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithTokenSource injects the bearer token provider.
func WithTokenSource(source TokenSource) Option {
	return func(c *Client) { c.tokens = source }
}

// WithLogger attaches a logger to the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.NewComponentLogger(logger, "metadata") }
}

// Client talks to the metadata search service.
type Client struct {
	baseURL     string
	searchOrder []string
	httpClient  HTTPDoer
	tokens      TokenSource
	logger      *slog.Logger
}

// NewClient builds a metadata client for the given base URL. Unknown sources
// in searchOrder are skipped at query time.
func NewClient(baseURL string, searchOrder []string, opts ...Option) *Client {
	if len(searchOrder) == 0 {
		searchOrder = []string{"missav", "javguru"}
	}
	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		searchOrder: searchOrder,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type searchEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// Search tries each configured source in order and returns the first
// successful result. A miss across every source returns (nil, nil); the
// caller decides whether that is an error.
func (c *Client) Search(ctx context.Context, movieCode string) (*Movie, error) {
	for _, source := range c.searchOrder {
		endpoint, ok := searchEndpoints[source]
		if !ok {
			c.logger.Warn("unknown search source", logging.String("source", source))
			continue
		}
		movie, err := c.postSearch(ctx, c.baseURL+endpoint, movieCode)
		if err != nil {
			c.logger.Warn("search request failed",
				logging.String("source", source),
				logging.String("movie_code", movieCode),
				logging.Error(err))
			continue
		}
		if movie != nil {
			c.logger.Info("found metadata",
				logging.String("source", source),
				logging.String("movie_code", movieCode))
			return movie, nil
		}
	}
	return nil, nil
}

func (c *Client) postSearch(ctx context.Context, url, movieCode string) (*Movie, error) {
	body, err := json.Marshal(map[string]string{"moviecode": movieCode})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if !envelope.Success || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, nil
	}
	return ParseMovie(envelope.Data)
}
