// Package api provides the violin fingering REST and WebSocket API server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jinjin-jara/violin-fingering/core/pipeline"
	"github.com/jinjin-jara/violin-fingering/internal/cache"
	"github.com/jinjin-jara/violin-fingering/internal/history"
	"github.com/jinjin-jara/violin-fingering/internal/logging"
)

// Version is reported by / and /health.
var Version = "0.3.0"

const shutdownTimeout = 10 * time.Second

// Server serves pipeline runs over HTTP.
type Server struct {
	cfg     Config
	history *history.Store
	cache   *cache.TTLCache[string, pipeline.Result]
	hub     *Hub
	jobs    *JobStore
	limiter *RateLimiter
	runner  pipeline.Runner
	now     func() time.Time
	started time.Time
}

// NewServer creates a server. store may be nil to disable run history.
func NewServer(cfg Config, store *history.Store) *Server {
	s := &Server{
		cfg:     cfg,
		history: store,
		cache: cache.NewWithConfig[string, pipeline.Result](cache.Config{
			TTL:        cfg.CacheTTL,
			MaxEntries: cfg.CacheEntries,
		}),
		hub:  NewHub(),
		jobs: NewJobStore(cfg.JobWorkers),
		now:  time.Now,
	}
	if cfg.RateLimitRequests > 0 {
		s.limiter = NewRateLimiter(RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequests,
			BurstSize:         cfg.RateLimitBurst,
		})
	}
	s.started = s.now()
	return s
}

// routes configures all HTTP routes.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/fingerings", s.handleFingerings)
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/{id}", s.handleJobByID)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.HandleFunc("/runs/{id}", s.handleRunByID)
	mux.HandleFunc("/runs/{id}/document", s.handleRunDocument)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

// Handler returns the routes wrapped in the middleware chain, innermost
// first: security headers, auth, rate limit, CORS, request ID and logging.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = SecurityHeaders(s.routes())
	handler = AuthMiddleware(s.cfg.Auth, handler)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = CORSMiddleware(s.cfg.AllowedOrigins, handler)
	return logging.CombinedMiddleware(handler)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(ctx)
	if s.limiter != nil {
		go s.limiter.Cleanup(ctx)
		logging.Info("rate limiting enabled",
			"requests_per_minute", s.cfg.RateLimitRequests,
			"burst_size", s.limiter.config.BurstSize)
	}
	s.logSecurity()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	protocol, wsProtocol := "http", "ws"
	if s.cfg.TLS.Enabled {
		protocol, wsProtocol = "https", "wss"
		logging.Info("TLS enabled", "cert_file", s.cfg.TLS.CertFile)
	} else {
		logging.Warn("TLS disabled - using plain HTTP",
			"recommendation", "consider using TLS or reverse proxy for production")
	}
	logging.ServerStartup("rest_api", protocol, s.cfg.Port,
		"websocket_protocol", wsProtocol,
		"history", s.history != nil,
		"cache_ttl", s.cfg.CacheTTL.String())

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.TLS.Enabled {
			errCh <- srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logging.Info("shutting down API server")
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logSecurity() {
	if s.cfg.Auth.Enabled {
		logging.SecurityEvent("authentication_configured", "api",
			"enabled", true,
			"note", "API key required")
	} else {
		logging.SecurityEvent("authentication_configured", "api",
			"enabled", false,
			"note", "all requests allowed")
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "restricted",
			"allowed_origins_count", len(s.cfg.AllowedOrigins))
	} else {
		logging.SecurityEvent("cors_configured", "api",
			"mode", "permissive",
			"note", "allowing all origins (*) - consider restricting for production")
	}
}
