// Package api serves the management JSON API over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/queue"
)

// Store is the queue surface the API needs.
type Store interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (map[queue.Status]int, error)
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Item, error)
	GetByID(ctx context.Context, id int64) (*queue.Item, error)
	Remove(ctx context.Context, id int64) (bool, error)
	ResetForRetry(ctx context.Context, id int64) (*queue.Item, error)
	ClearCompleted(ctx context.Context) (int64, error)
	Enqueue(ctx context.Context, filePath string, opts ...queue.EnqueueOption) (*queue.Item, error)
	AddDownload(ctx context.Context, url, filename string) (*queue.DownloadJob, error)
	GetDownload(ctx context.Context, id int64) (*queue.DownloadJob, error)
	ListDownloads(ctx context.Context, limit int) ([]*queue.DownloadJob, error)
}

// Scanner triggers a media library scan.
type Scanner interface {
	Scan(ctx context.Context) error
}

// Option adjusts server construction.
type Option func(*Server)

// WithScanner wires the POST /api/scan endpoint to a library scanner.
func WithScanner(scanner Scanner) Option {
	return func(s *Server) { s.scanner = scanner }
}

// WithWorkerHealth supplies per-worker liveness for the status endpoint.
func WithWorkerHealth(health func() map[string]bool) Option {
	return func(s *Server) { s.workerHealth = health }
}

// WithAuthExpiry supplies the shared token expiry for the status endpoint.
func WithAuthExpiry(expiry func() time.Time) Option {
	return func(s *Server) { s.authExpiry = expiry }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.NewComponentLogger(logger, "api") }
}

// Server is the management API. All /api/ routes require the configured
// bearer token; /healthz does not, so load balancer checks stay simple.
type Server struct {
	store        Store
	scanner      Scanner
	workerHealth func() map[string]bool
	authExpiry   func() time.Time

	bind   string
	token  string
	logger *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the management API server from config.
func NewServer(cfg *config.Config, store Store, opts ...Option) *Server {
	s := &Server{
		store:  store,
		bind:   cfg.Paths.APIBind,
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(slog.Default(), "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	// Prometheus scrapers do not send bearer tokens; /metrics stays open
	// like /healthz.
	mux.Handle("GET /metrics", metrics.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("GET /api/queue", s.handleListQueue)
	api.HandleFunc("POST /api/queue", s.handleEnqueue)
	api.HandleFunc("GET /api/queue/{id}", s.handleGetItem)
	api.HandleFunc("DELETE /api/queue/{id}", s.handleRemoveItem)
	api.HandleFunc("POST /api/queue/{id}/retry", s.handleRetryItem)
	api.HandleFunc("POST /api/queue/clear-completed", s.handleClearCompleted)
	api.HandleFunc("POST /api/scan", s.handleScan)
	api.HandleFunc("GET /api/downloads", s.handleListDownloads)
	api.HandleFunc("POST /api/downloads", s.handleAddDownload)
	api.HandleFunc("GET /api/downloads/{id}", s.handleGetDownload)

	mux.Handle("/api/", s.requireToken(api))
	return s.withRequestID(mux)
}

// Start binds the listener and serves in the background. Using an explicit
// listener lets tests bind port 0 and read the assigned address.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("bind api listener: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server stopped", logging.Error(err))
		}
	}()
	s.logger.Info("api listening", logging.String("addr", s.Addr()))
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// withRequestID tags every request with an id for log correlation.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		s.logger.Debug("request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String("request_id", requestID))
		next.ServeHTTP(w, r)
	})
}

// requireToken enforces bearer auth when an API token is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
