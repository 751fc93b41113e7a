// Package main provides the vitals ingestion worker. It consumes
// observation snapshots from the vitals topic and maintains the
// latest-vitals cache the monitoring cycle reads from.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/config"
	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/internal/infrastructure/kafka"
	"github.com/carewatch/go-cds/internal/infrastructure/rediscache"
	"github.com/carewatch/go-cds/internal/observability/metrics"
	"github.com/carewatch/go-cds/internal/observability/tracing"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	tracingCfg := tracing.DefaultConfig("vitals-ingest")
	tracingCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tracingCfg.Environment = cfg.Environment
	traceProvider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer traceProvider.Shutdown(context.Background())
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}

	m := metrics.New()
	cache := rediscache.New(redisClient, "", 0)

	consumerCfg := kafka.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Brokers
	consumer, err := kafka.NewConsumer(consumerCfg,
		func(ctx context.Context, key, value []byte) error {
			var snapshot clinical.VitalsSnapshot
			if err := json.Unmarshal(value, &snapshot); err != nil {
				// Malformed observations are dropped, not retried.
				logger.Warn("discarding malformed observation",
					zap.String("key", string(key)), zap.Error(err))
				return nil
			}
			if snapshot.PatientID == "" {
				logger.Warn("discarding observation without patient id")
				return nil
			}
			if err := cache.Put(ctx, snapshot); err != nil {
				return err
			}
			m.VitalsIngested.Inc()
			return nil
		}, logger)
	if err != nil {
		logger.Fatal("failed to create kafka consumer", zap.Error(err))
	}

	consumer.Start()
	logger.Info("vitals ingestion started",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", kafka.TopicVitals))

	// Liveness endpoint only; this worker has no request surface.
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"healthy","service":"vitals-ingest"}`)
		})
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
			logger.Error("health server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down ingestion")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	logger.Info("ingestion stopped")
}
