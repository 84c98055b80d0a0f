package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coffersTech/nanosearch/internal/cluster"
	"github.com/coffersTech/nanosearch/internal/controller"
	"github.com/coffersTech/nanosearch/internal/engine"
	"github.com/coffersTech/nanosearch/internal/registry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fastjson"
	"golang.org/x/time/rate"
)

// Server exposes the engine over HTTP.
type Server struct {
	queryEngine *engine.QueryEngine
	metaStore   *controller.Store
	aggregator  *cluster.Aggregator
	registry    *registry.Server
	metrics     *engine.Metrics
	limiter     *rate.Limiter
	logger      *slog.Logger
	webDir      string

	sessions   map[string]session
	sessionsMu sync.RWMutex
	sessionTTL time.Duration

	parser fastjson.ParserPool
	srv    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAggregator enables the /api/cluster routes.
func WithAggregator(a *cluster.Aggregator) Option {
	return func(s *Server) { s.aggregator = a }
}

// WithRegistry lets peer nodes join through /api/cluster/join.
func WithRegistry(store *registry.Store) Option {
	return func(s *Server) { s.registry = registry.NewServer(store) }
}

// WithMetrics serves the engine metrics on /metrics.
func WithMetrics(m *engine.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit limits search and explain requests to rps per second with
// the given burst. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithWebDir serves static files from dir on /.
func WithWebDir(dir string) Option {
	return func(s *Server) { s.webDir = dir }
}

// New creates a Server.
func New(qe *engine.QueryEngine, ms *controller.Store, opts ...Option) *Server {
	s := &Server{
		queryEngine: qe,
		metaStore:   ms,
		logger:      slog.New(slog.DiscardHandler),
		sessions:    make(map[string]session),
		sessionTTL:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("section", "http")
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/system/status", s.handleSystemStatus)
	mux.HandleFunc("POST /api/system/init", s.handleSystemInit)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.Handle("GET /api/system/config", s.auth(permAdmin, s.handleGetConfig))
	mux.Handle("POST /api/system/config", s.auth(permAdmin, s.handleUpdateConfig))

	mux.Handle("GET /api/tokens", s.auth(permAdmin, s.handleListTokens))
	mux.Handle("POST /api/tokens", s.auth(permAdmin, s.handleCreateToken))
	mux.Handle("DELETE /api/tokens/{id}", s.auth(permAdmin, s.handleDeleteToken))

	mux.Handle("POST /api/ingest", s.auth(permWrite, s.handleIngest))
	mux.Handle("GET /api/search", s.auth(permRead, s.throttle(s.handleSearch)))
	mux.Handle("GET /api/explain", s.auth(permRead, s.throttle(s.handleExplain)))
	mux.Handle("GET /api/histogram", s.auth(permRead, s.handleHistogram))
	mux.Handle("GET /api/context", s.auth(permRead, s.handleContext))
	mux.Handle("GET /api/stats", s.auth(permRead, s.handleStats))

	if s.aggregator != nil {
		mux.Handle("GET /api/cluster/search", s.auth(permRead, s.throttle(s.handleClusterSearch)))
		mux.Handle("GET /api/cluster/histogram", s.auth(permRead, s.handleClusterHistogram))
		mux.Handle("GET /api/cluster/stats", s.auth(permRead, s.handleClusterStats))
	}
	if s.registry != nil {
		mux.Handle("POST /api/cluster/join", s.auth(permWrite, s.registry.HandleJoin))
		mux.Handle("GET /api/cluster/nodes", s.auth(permRead, s.registry.HandleListNodes))
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	if s.webDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.webDir)))
	}
	return s.logRequests(mux)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// throttle rejects requests over the rate limit.
func (s *Server) throttle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}
