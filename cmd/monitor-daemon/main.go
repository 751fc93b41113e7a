// Package main provides the standalone continuous monitoring daemon. It
// runs the periodic risk evaluation cycle and publishes alerts to the
// configured delivery channels.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/alertstate"
	"github.com/carewatch/go-cds/internal/config"
	"github.com/carewatch/go-cds/internal/dispatch"
	"github.com/carewatch/go-cds/internal/infrastructure/kafka"
	"github.com/carewatch/go-cds/internal/infrastructure/postgres"
	"github.com/carewatch/go-cds/internal/infrastructure/rediscache"
	"github.com/carewatch/go-cds/internal/monitor"
	"github.com/carewatch/go-cds/internal/observability/metrics"
	"github.com/carewatch/go-cds/internal/observability/tracing"
	"github.com/carewatch/go-cds/internal/risk"
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

	tracingCfg := tracing.DefaultConfig("monitor-daemon")
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}

	bootstrapTopics(ctx, cfg, logger)

	producerCfg := kafka.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Brokers
	producer, err := kafka.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	m := metrics.New()

	var channels []dispatch.Channel
	for _, name := range cfg.Channels {
		switch name {
		case "kafka":
			channels = append(channels, kafka.NewChannel(producer, kafka.TopicRiskAlerts))
		case "log":
			channels = append(channels, dispatch.NewLogChannel(logger))
		default:
			logger.Fatal("unknown alert channel", zap.String("channel", name))
		}
	}

	historyRepo := postgres.NewHistoryRepository(pool, logger)
	dispatcher := dispatch.New(
		channels,
		kafka.NewFallback(producer, kafka.TopicAlertsFallback),
		historyRepo,
		dispatch.Config{MaxAttempts: cfg.DispatchRetries, BaseBackoff: cfg.DispatchBackoff},
		m, logger)

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("risk-scorer"), logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}
	scorer := risk.NewBreakerScorer(
		risk.NewTimeoutScorer(risk.NewEarlyWarningScorer(), cfg.ScoreTimeout), breaker)

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

	scheduler.Start()
	logger.Info("monitoring started",
		zap.Duration("interval", cfg.MonitorInterval),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Strings("channels", cfg.Channels))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down monitor")
	scheduler.Stop()
	logger.Info("monitor stopped")
}

func bootstrapTopics(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	admin, err := kafka.NewAdmin(cfg.Brokers, logger)
	if err != nil {
		logger.Fatal("failed to create kafka admin client", zap.Error(err))
	}
	defer admin.Close()

	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := admin.EnsureTopics(bootCtx); err != nil {
		logger.Fatal("topic bootstrap failed", zap.Error(err))
	}
}
