// Package auth manages the shared bearer token for the metadata service.
//
// Tokens are persisted in the queue database so every process pointed at the
// same database converges on one credential. The manager refreshes
// proactively ahead of expiry and reactively (debounced) when a request
// comes back 401.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/queue"
)

// HTTPDoer abstracts the HTTP client for tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenStore persists tokens across processes. Implemented by *queue.Store.
type TokenStore interface {
	LatestToken(ctx context.Context) (*queue.AuthToken, error)
	SaveToken(ctx context.Context, accessToken string, expiresAt time.Time) error
}

// ErrRefreshUnavailable is returned when no refresh credential is configured.
var ErrRefreshUnavailable = errors.New("no refresh token available")

const defaultExpiresIn = 24 * time.Hour

// Option customises Manager construction.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for refresh calls.
func WithHTTPClient(client HTTPDoer) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithLogger attaches a logger to the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.NewComponentLogger(logger, "auth") }
}

// WithNowFunc overrides the clock (used in tests).
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRefreshToken overrides the refresh credential.
func WithRefreshToken(token string) Option {
	return func(m *Manager) { m.refreshToken = token }
}

// Manager owns the access token lifecycle.
type Manager struct {
	store        TokenStore
	httpClient   HTTPDoer
	logger       *slog.Logger
	now          func() time.Time
	refreshURL   string
	refreshToken string
	initialToken string

	proactiveWindow time.Duration
	cooldown        time.Duration
	checkInterval   time.Duration

	mu           sync.RWMutex
	accessToken  string
	expiresAt    time.Time
	lastReactive time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager builds a Manager from configuration. The refresh credential is
// loaded from the configured file with an environment fallback.
func NewManager(cfg *config.Config, store TokenStore, opts ...Option) *Manager {
	mgr := &Manager{
		store:           store,
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		logger:          logging.NewNop(),
		now:             time.Now,
		refreshURL:      cfg.MetadataAPI.RefreshURL,
		refreshToken:    LoadRefreshToken(cfg.MetadataAPI.RefreshTokenFile),
		initialToken:    cfg.MetadataAPI.Token,
		accessToken:     cfg.MetadataAPI.Token,
		proactiveWindow: time.Duration(cfg.Auth.ProactiveWindowHours) * time.Hour,
		cooldown:        time.Duration(cfg.Auth.ReactiveCooldown) * time.Second,
		checkInterval:   time.Duration(cfg.Auth.CheckInterval) * time.Second,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Initialize loads the stored token, refreshes when needed, and starts the
// background reconcile loop.
func (m *Manager) Initialize(ctx context.Context) error {
	stored, err := m.store.LatestToken(ctx)
	if err != nil {
		m.logger.Error("load stored token", logging.Error(err))
	}

	now := m.now().UTC()
	if stored != nil && stored.ExpiresAt.After(now) {
		m.mu.Lock()
		m.accessToken = stored.AccessToken
		m.expiresAt = stored.ExpiresAt
		m.mu.Unlock()
		remaining := stored.ExpiresAt.Sub(now)
		m.logger.Info("loaded token from store",
			logging.Duration("expires_in", remaining))
		if remaining < m.proactiveWindow {
			m.logger.Info("token close to expiry, refreshing proactively")
			if err := m.refresh(ctx); err != nil {
				m.logger.Warn("proactive refresh failed", logging.Error(err))
			}
		}
	} else {
		m.logger.Info("no valid stored token, attempting refresh")
		if err := m.refresh(ctx); err != nil {
			m.logger.Warn("refresh failed, using configured token", logging.Error(err))
			m.mu.Lock()
			m.accessToken = m.initialToken
			m.mu.Unlock()
		}
	}

	go m.backgroundLoop()
	m.logger.Info("token manager initialized")
	return nil
}

// Token returns the current access token.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

// ExpiresAt returns the current token's expiry, zero when unknown.
func (m *Manager) ExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiresAt
}

// HandleUnauthorized refreshes the token in response to a 401. Debounced so
// a burst of failing requests triggers at most one refresh per cooldown.
func (m *Manager) HandleUnauthorized() {
	now := m.now()
	m.mu.Lock()
	if now.Sub(m.lastReactive) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debug("reactive refresh skipped during cooldown")
		return
	}
	m.lastReactive = now
	m.mu.Unlock()

	m.logger.Info("unauthorized response received, refreshing token")
	if err := m.refresh(context.Background()); err != nil {
		m.logger.Error("reactive refresh failed", logging.Error(err))
	}
}

// Close stops the background loop and waits for it to exit.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	select {
	case <-m.done:
	case <-time.After(10 * time.Second):
		m.logger.Warn("token manager loop did not stop in time")
	}
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// refresh wraps doRefresh with outcome accounting.
func (m *Manager) refresh(ctx context.Context) error {
	if err := m.doRefresh(ctx); err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	metrics.TokenRefreshes.WithLabelValues(metrics.ResultSuccess).Inc()
	return nil
}

// doRefresh calls the refresh endpoint, persists the new token, and publishes
// it. Persist-before-publish keeps the store authoritative for other
// processes.
func (m *Manager) doRefresh(ctx context.Context) error {
	if m.refreshToken == "" {
		return ErrRefreshUnavailable
	}

	payload, err := json.Marshal(map[string]string{"token": m.refreshToken})
	if err != nil {
		return fmt.Errorf("marshal refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.Token())

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("refresh returned status %d", resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return errors.New("refresh response missing access_token")
	}

	expiresIn := time.Duration(body.ExpiresIn) * time.Second
	if body.ExpiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	expiresAt := m.now().UTC().Add(expiresIn)

	if err := m.store.SaveToken(ctx, body.AccessToken, expiresAt); err != nil {
		m.logger.Error("persist refreshed token", logging.Error(err))
	}

	m.mu.Lock()
	m.accessToken = body.AccessToken
	m.expiresAt = expiresAt
	m.mu.Unlock()

	m.logger.Info("token refreshed", logging.Duration("expires_in", expiresIn))
	return nil
}

// backgroundLoop periodically reconciles with the store and refreshes ahead
// of expiry.
func (m *Manager) backgroundLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reconcile()
		}
	}
}

// reconcile adopts a later-expiring token another process may have written,
// then refreshes when inside the proactive window.
func (m *Manager) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stored, err := m.store.LatestToken(ctx)
	if err != nil {
		m.logger.Error("reload token from store", logging.Error(err))
	}
	if stored != nil {
		m.mu.Lock()
		if m.expiresAt.IsZero() || stored.ExpiresAt.After(m.expiresAt) {
			m.accessToken = stored.AccessToken
			m.expiresAt = stored.ExpiresAt
			m.logger.Info("adopted newer token from store")
		}
		m.mu.Unlock()
	}

	m.mu.RLock()
	expiresAt := m.expiresAt
	m.mu.RUnlock()

	if expiresAt.IsZero() {
		m.logger.Info("token expiry unknown, attempting refresh")
		if err := m.refresh(ctx); err != nil {
			m.logger.Warn("refresh failed", logging.Error(err))
		}
		return
	}

	remaining := expiresAt.Sub(m.now().UTC())
	if remaining < m.proactiveWindow {
		m.logger.Info("token expiring soon, refreshing proactively",
			logging.Duration("remaining", remaining))
		if err := m.refresh(ctx); err != nil {
			m.logger.Warn("proactive refresh failed", logging.Error(err))
		}
	}
}
