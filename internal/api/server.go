package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/user/iap-service/internal/config"
	"github.com/user/iap-service/internal/domain"
	"github.com/user/iap-service/internal/monitoring"
)

// Fetcher runs a multi-locale extraction.
type Fetcher interface {
	FetchAll(ctx context.Context, productID domain.ProductID, locales []string, slug string) *domain.AggregateResult
}

// SnapshotReader serves persisted extraction history.
type SnapshotReader interface {
	LatestSnapshot(ctx context.Context, productID, locale string) (*domain.Snapshot, error)
}

// Pinger is a dependency reported by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	fetcher    Fetcher
	snapshots  SnapshotReader
	deps       map[string]Pinger
	limiter    *ipRateLimiter
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

// NewServer wires the routes. snapshots may be nil and deps may be empty when
// the optional stores are not configured.
func NewServer(cfg *config.Config, f Fetcher, snapshots SnapshotReader, deps map[string]Pinger, m *monitoring.Metrics, l *zap.Logger) *Server {
	s := &Server{
		config:    cfg,
		fetcher:   f,
		snapshots: snapshots,
		deps:      deps,
		metrics:   m,
		logger:    l,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Hour)
	}
	s.router = s.setupRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Multi-locale requests hold the connection for the whole run.
		WriteTimeout: s.config.RequestTimeoutDuration() + 10*time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
