// Package emby integrates with the Emby media server: library scans, item
// discovery after a move, metadata writes with read-back verification, and
// artwork uploads.
package emby

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
)

// defaultRetryDelays is the poll schedule used while waiting for Emby to
// index a freshly moved file.
var defaultRetryDelays = []time.Duration{
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
	64 * time.Second,
}

// HTTPDoer abstracts the HTTP client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the metadata-service bearer token for image
// downloads and reacts to credential rejections.
type TokenSource interface {
	Token() string
	HandleUnauthorized()
}

// SleepFunc waits for a duration or until the context is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Item is the subset of an Emby item used for discovery.
type Item struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
	Path string `json:"Path"`
}

type itemsPage struct {
	Items []Item `json:"Items"`
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for Emby calls.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithSleepFunc overrides the retry sleeper (used in tests).
func WithSleepFunc(sleep SleepFunc) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithImageTokenSource attaches the bearer credential used when downloading
// artwork from the metadata host. The token is only sent to that host.
func WithImageTokenSource(source TokenSource, host string) Option {
	return func(c *Client) {
		c.imageTokens = source
		c.imageAuthHost = host
	}
}

// WithLogger attaches a logger to the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.NewComponentLogger(logger, "emby") }
}

// Client talks to an Emby server.
type Client struct {
	baseURL        string
	apiKey         string
	userID         string
	parentFolderID string
	retryDelays    []time.Duration

	httpClient    HTTPDoer
	sleep         SleepFunc
	logger        *slog.Logger
	imageTokens   TokenSource
	imageAuthHost string
}

// NewClient builds an Emby client from configuration.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	delays := make([]time.Duration, 0, len(cfg.Emby.RetryDelays))
	for _, seconds := range cfg.Emby.RetryDelays {
		delays = append(delays, time.Duration(seconds)*time.Second)
	}
	if len(delays) == 0 {
		delays = defaultRetryDelays
	}

	client := &Client{
		baseURL:        strings.TrimRight(cfg.Emby.URL, "/"),
		apiKey:         cfg.Emby.APIKey,
		userID:         cfg.Emby.UserID,
		parentFolderID: cfg.Emby.ParentFolderID,
		retryDelays:    delays,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		sleep:          defaultSleep,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Scan asks Emby to refresh the library. When a parent folder is configured
// the refresh is scoped to it; otherwise the whole library is rescanned.
func (c *Client) Scan(ctx context.Context) error {
	var endpoint string
	if c.parentFolderID != "" {
		endpoint = fmt.Sprintf("%s/emby/Items/%s/Refresh?Recursive=true", c.baseURL, url.PathEscape(c.parentFolderID))
	} else {
		endpoint = c.baseURL + "/Library/Refresh"
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, nil, "")
	if err != nil {
		return fmt.Errorf("trigger library scan: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("library scan returned status %d", resp.StatusCode)
	}
	c.logger.Info("library scan triggered")
	return nil
}

// FindByPath looks an item up by its exact file path. Returns nil when Emby
// has not indexed the path.
func (c *Client) FindByPath(ctx context.Context, path string) (*Item, error) {
	query := url.Values{
		"Recursive":        {"true"},
		"IncludeItemTypes": {"Movie"},
		"Fields":           {"Path"},
		"Path":             {path},
	}
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/Items?"+query.Encode(), nil, "")
	if err != nil {
		return nil, fmt.Errorf("find item by path: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("item lookup returned status %d", resp.StatusCode)
	}

	var page itemsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode item lookup: %w", err)
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	return &page.Items[0], nil
}

// FindByPathWithRetry polls for an item while Emby indexes the moved file.
// The first lookup is immediate; misses sleep through the retry ladder. When
// every path lookup misses, a filename search scoped to the parent folder is
// the last resort. Returns nil when the item never appears.
func (c *Client) FindByPathWithRetry(ctx context.Context, path string) (*Item, error) {
	item, err := c.FindByPath(ctx, path)
	if err != nil {
		c.logger.Warn("item lookup failed", logging.Error(err))
	}
	if item != nil {
		return item, nil
	}

	for i, delay := range c.retryDelays {
		c.logger.Info("item not indexed yet, retrying",
			logging.Int("attempt", i+1),
			logging.Duration("delay", delay),
			logging.String("path", path))
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		item, err = c.FindByPath(ctx, path)
		if err != nil {
			c.logger.Warn("item lookup failed", logging.Error(err))
			continue
		}
		if item != nil {
			return item, nil
		}
	}

	filename := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		filename = path[idx+1:]
	}
	c.logger.Info("path search exhausted, trying filename fallback",
		logging.String("filename", filename))
	return c.FindByFilename(ctx, filename)
}

// FindByFilename searches for an item by filename, scoped to the configured
// parent folder. An item whose Path ends with the filename is preferred;
// otherwise the first search hit is returned.
func (c *Client) FindByFilename(ctx context.Context, filename string) (*Item, error) {
	query := url.Values{
		"Recursive":        {"true"},
		"IncludeItemTypes": {"Video"},
		"Fields":           {"Path"},
		"SearchTerm":       {filename},
	}
	if c.parentFolderID != "" {
		query.Set("ParentId", c.parentFolderID)
	}

	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/Items?"+query.Encode(), nil, "")
	if err != nil {
		return nil, fmt.Errorf("find item by filename: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("filename search returned status %d", resp.StatusCode)
	}

	var page itemsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode filename search: %w", err)
	}
	for i := range page.Items {
		if strings.HasSuffix(page.Items[i].Path, filename) {
			return &page.Items[i], nil
		}
	}
	if len(page.Items) > 0 {
		c.logger.Info("no exact path match, using first search result",
			logging.String("filename", filename),
			logging.String("item_id", page.Items[0].ID))
		return &page.Items[0], nil
	}
	return nil, nil
}

// do issues a request with the Emby token attached.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, contentType string) (*http.Response, error) {
	var reader *strings.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpClient.Do(req)
}
