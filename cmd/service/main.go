package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-data-service/internal/audit"
	"github.com/kjstillabower/weather-data-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-data-service/internal/client"
	"github.com/kjstillabower/weather-data-service/internal/config"
	httphandler "github.com/kjstillabower/weather-data-service/internal/http"
	"github.com/kjstillabower/weather-data-service/internal/observability"
	"github.com/kjstillabower/weather-data-service/internal/retention"
	"github.com/kjstillabower/weather-data-service/internal/service"
	"github.com/kjstillabower/weather-data-service/internal/storage"
)

const (
	drainTimeout       = 5 * time.Second
	drainCheckInterval = 100 * time.Millisecond
	startupTimeout     = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
		Component:        "weather_api",
	})
	logger.Info("circuit breaker configured",
		zap.Int("failure_threshold", cfg.BreakerThreshold),
		zap.Duration("reset_timeout", cfg.BreakerResetTimeout))

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.ExternalTimeout, cfg.ProbePlace, breaker)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	store, err := storage.New(cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	logger.Info("store ready", zap.String("provider", cfg.ProviderMode))

	startCtx, startCancel := context.WithTimeout(context.Background(), startupTimeout)
	auditLog, err := audit.New(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Fatal("audit log", zap.Error(err))
	}

	weatherService := service.NewService(weatherClient, store, auditLog, cfg.CacheTTL, logger)

	janitor := retention.New(
		store,
		auditLog,
		cfg.CacheTTL,
		time.Duration(cfg.AuditRetentionDays)*24*time.Hour,
		cfg.PurgeInterval,
		logger,
	)
	if err := janitor.Start(); err != nil {
		logger.Fatal("retention scheduler", zap.Error(err))
	}

	readiness := &httphandler.Readiness{}
	tracker := &httphandler.InFlightTracker{}
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	handler := httphandler.NewHandler(weatherService, readiness, logger)
	router := httphandler.NewRouter(handler, limiter, tracker, cfg.RequestTimeout, logger)

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// The write timeout must outlive the data-route deadline or slow
		// upstream fetches get cut off mid-response.
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	readiness.SetReady(true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	readiness.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := tracker.Count()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer waitCancel()
	if err := tracker.WaitForZero(waitCtx, drainCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", tracker.Count()))
	}

	janitor.Stop()

	if err := observability.FlushTelemetry(logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if closer, ok := auditLog.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Error("audit log close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
