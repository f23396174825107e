package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radiusdt/vector-adserver/internal/analytics"
	"github.com/radiusdt/vector-adserver/internal/config"
	"github.com/radiusdt/vector-adserver/internal/database"
	"github.com/radiusdt/vector-adserver/internal/httpserver"
	"github.com/radiusdt/vector-adserver/internal/metrics"
	"github.com/radiusdt/vector-adserver/internal/middleware"
	"github.com/radiusdt/vector-adserver/internal/targeting"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		zap.NewExample().Fatal("failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("starting ad server",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("adserver")
	}

	deps := httpserver.Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	}

	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL unavailable, falling back to in-memory storage", zap.Error(err))
	} else {
		deps.DB = db
		defer db.Close()
	}

	rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, falling back to in-memory stores", zap.Error(err))
	} else {
		deps.Redis = rdb
		defer rdb.Close()
	}

	if cfg.Geo.Enabled {
		provider, err := targeting.NewMaxMindGeoProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("GeoIP database unavailable, geo targeting disabled", zap.Error(err))
		} else {
			deps.Geo = targeting.NewGeoResolver(provider, cfg.Geo.CacheSize, cfg.Geo.CacheTTL, m)
			defer deps.Geo.Close()
		}
	}

	if cfg.Analytics.Enabled {
		sink, err := analytics.NewClickHouseSink(ctx, analytics.ClickHouseConfig{
			Addr:     cfg.Analytics.Addr,
			Database: cfg.Analytics.Database,
			Username: cfg.Analytics.Username,
			Password: cfg.Analytics.Password,
			Table:    cfg.Analytics.Table,
		}, logger)
		if err != nil {
			logger.Warn("analytics sink unavailable, falling back to log sink", zap.Error(err))
			deps.Analytics = analytics.NewDispatcher(
				analytics.NewLogSink(logger), cfg.Analytics.Buffer, cfg.Analytics.Timeout, logger, m,
			)
		} else {
			deps.Analytics = analytics.NewDispatcher(
				sink, cfg.Analytics.Buffer, cfg.Analytics.Timeout, logger, m,
			)
		}
		defer deps.Analytics.Close()
	}

	srv, err := httpserver.NewServer(deps)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	var handler http.Handler = srv
	handler = middleware.NewAuthMiddleware(cfg.Auth).Handler(handler)
	handler = middleware.NewRateLimitMiddleware(cfg.RateLimit, m).Handler(handler)
	handler = middleware.NewLoggingMiddleware(logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(logger).Handler(handler)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Fatal("HTTP server failed", zap.Error(err))
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("ad server stopped")
}
