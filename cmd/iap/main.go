package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/iap-service/internal/api"
	"github.com/user/iap-service/internal/browser"
	"github.com/user/iap-service/internal/config"
	"github.com/user/iap-service/internal/crawler"
	"github.com/user/iap-service/internal/locale"
	"github.com/user/iap-service/internal/monitoring"
	"github.com/user/iap-service/internal/proxy"
	"github.com/user/iap-service/internal/storage"
	"github.com/user/iap-service/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}

	// Initialize structured logger
	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer zl.Sync()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	catalog := locale.NewCatalog()
	proxyManager := proxy.NewManager(cfg.ProxyList(), cfg.UserAgent)

	// Optional storage layer. Interfaces stay untyped nil when a store is
	// not configured so the crawler skips it.
	var (
		cache     crawler.ResultCache
		store     crawler.SnapshotStore
		snapshots api.SnapshotReader
		deps      = map[string]api.Pinger{}
	)
	if cfg.RedisAddr != "" {
		redisStore := storage.NewRedisStore(cfg.RedisAddr)
		defer redisStore.Close()
		cache = redisStore
		deps["redis"] = redisStore
	}
	if cfg.PostgresURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			cancel()
			zl.Fatal("failed to connect to postgres", zap.Error(err))
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			cancel()
			zl.Fatal("failed to prepare schema", zap.Error(err))
		}
		cancel()
		defer pgStore.Close()
		store = pgStore
		snapshots = pgStore
		deps["postgres"] = pgStore
	}

	driver, err := browser.New(cfg.BrowserEngine, browser.Options{
		Headless:          cfg.Headless,
		ExecPath:          cfg.ChromeBin,
		UserAgent:         proxyManager.GetUserAgent(),
		NavigationTimeout: cfg.NavigationTimeoutDuration(),
	}, catalog, proxyManager)
	if err != nil {
		zl.Fatal("invalid browser configuration", zap.Error(err))
	}

	// Initialize Core Crawler
	iapCrawler := crawler.NewCrawler(crawler.Options{
		Host:          cfg.StorefrontHost,
		Workers:       cfg.CrawlWorkers,
		LocaleTimeout: cfg.LocaleTimeoutDuration(),
		Wait: crawler.WaitOptions{
			Timeout:      cfg.ReadinessTimeoutDuration(),
			PollInterval: cfg.PollInterval(),
		},
		SettleDelay: cfg.SettleDelay(),
		CloseGrace:  cfg.CloseGraceDuration(),
		CacheTTL:    cfg.CacheTTL(),
	}, driver, catalog, cache, store, metrics, zl)

	// Initialize API Server
	server := api.NewServer(cfg, iapCrawler, snapshots, deps, metrics, zl)

	// Graceful Shutdown
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("could not start server", zap.Error(err))
		}
	}()

	zl.Info("server started",
		zap.String("port", cfg.ServerPort),
		zap.String("engine", cfg.BrowserEngine),
		zap.Int("workers", cfg.CrawlWorkers),
		zap.Int("proxies", proxyManager.Len()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}

	zl.Info("server exiting")
}
