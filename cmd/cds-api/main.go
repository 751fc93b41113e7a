// Package main provides the decision support API entry point: prescription
// safety validation, monitoring lifecycle control and alert history.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/alertstate"
	"github.com/carewatch/go-cds/internal/api/handlers"
	"github.com/carewatch/go-cds/internal/api/middleware"
	"github.com/carewatch/go-cds/internal/config"
	"github.com/carewatch/go-cds/internal/dispatch"
	"github.com/carewatch/go-cds/internal/infrastructure/postgres"
	"github.com/carewatch/go-cds/internal/infrastructure/rediscache"
	"github.com/carewatch/go-cds/internal/monitor"
	"github.com/carewatch/go-cds/internal/observability/metrics"
	"github.com/carewatch/go-cds/internal/observability/tracing"
	"github.com/carewatch/go-cds/internal/risk"
	"github.com/carewatch/go-cds/internal/safety"
	"github.com/carewatch/go-cds/pkg/circuitbreaker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	tracingCfg := tracing.DefaultConfig("cds-api")
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tracingCfg.Environment = cfg.Environment
	traceProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer traceProvider.Shutdown(context.Background())
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()

	m := metrics.New()

	// Safety validation over the durable knowledge schema.
	knowledgeRepo := postgres.NewKnowledgeRepository(pool, logger)
	validator := safety.NewValidator(knowledgeRepo,
		safety.Config{CreatinineThreshold: cfg.CreatinineLimit}, logger)

	// Embedded monitoring pipeline: log channel only; the standalone
	// daemon carries the kafka channels in production deployments.
	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("risk-scorer"), logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}
	scorer := risk.NewBreakerScorer(
		risk.NewTimeoutScorer(risk.NewEarlyWarningScorer(), cfg.ScoreTimeout), breaker)

	historyRepo := postgres.NewHistoryRepository(pool, logger)
	dispatcher := dispatch.New(
		[]dispatch.Channel{dispatch.NewLogChannel(logger)},
		dispatch.NewLogFallback(logger),
		historyRepo,
		dispatch.Config{MaxAttempts: cfg.DispatchRetries, BaseBackoff: cfg.DispatchBackoff},
		m, logger)

	scheduler := monitor.NewScheduler(
		postgres.NewAdmissionRepository(pool, logger),
		rediscache.New(redisClient, "", 0),
		scorer,
		alertstate.NewRedisStore(redisClient, "", cfg.AlertStateTTL),
		dispatcher,
		monitor.Config{
			Interval:       cfg.MonitorInterval,
			RepeatInterval: cfg.RepeatInterval,
			Concurrency:    cfg.Concurrency,
		},
		m, logger)
	defer scheduler.Stop()

	safetyHandler := handlers.NewSafetyHandler(validator, m, logger)
	monitorHandler := handlers.NewMonitorHandler(scheduler, historyRepo, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("cds-api"))

	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKeys))
		r.Mount("/safety", safetyHandler.Routes())
		r.Mount("/monitor", monitorHandler.Routes())
		r.Get("/patients/{id}/alerts", monitorHandler.AlertHistory)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting decision support API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"cds-api","version":"1.0.0"}`)
}
