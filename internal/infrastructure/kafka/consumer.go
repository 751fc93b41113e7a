package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	// Brokers is the list of broker addresses.
	Brokers []string
	// GroupID is the consumer group.
	GroupID string
	// Topics is the topic set to consume.
	Topics []string
	// SessionTimeoutMS is the group session timeout.
	SessionTimeoutMS int64
	// HeartbeatIntervalMS is the group heartbeat interval.
	HeartbeatIntervalMS int64
}

// DefaultConsumerConfig returns defaults for the vitals feed.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:             []string{"localhost:9092"},
		GroupID:             "cds-vitals-ingest",
		Topics:              []string{TopicVitals},
		SessionTimeoutMS:    30000,
		HeartbeatIntervalMS: 3000,
	}
}

// Handler is called for each consumed message. Returning an error leaves
// the offset uncommitted so the message is reprocessed.
type Handler func(ctx context.Context, key, value []byte) error

// Consumer consumes the vitals observation feed.
type Consumer struct {
	client  *kgo.Client
	config  ConsumerConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer. Offsets are committed manually after the
// handler succeeds so a crashed ingest process replays instead of dropping.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS) * time.Millisecond),
		kgo.HeartbeatInterval(time.Duration(cfg.HeartbeatIntervalMS) * time.Millisecond),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()), // cache only wants fresh observations
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:  client,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("kafka-consumer"),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins consuming.
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop drains and closes the consumer.
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	c.client.Close()
	return nil
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				c.logger.Error("fetch error",
					zap.String("topic", err.Topic),
					zap.Int32("partition", err.Partition),
					zap.Error(err.Err))
			}
			continue
		}

		fetches.EachRecord(func(record *kgo.Record) {
			c.processRecord(record)
		})
	}
}

func (c *Consumer) processRecord(record *kgo.Record) {
	ctx, span := c.tracer.Start(c.ctx, "process_message",
		trace.WithAttributes(
			attribute.String("topic", record.Topic),
			attribute.Int64("partition", int64(record.Partition)),
			attribute.Int64("offset", record.Offset),
		))
	defer span.End()

	if err := c.handler(ctx, record.Key, record.Value); err != nil {
		c.logger.Error("message handler failed",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		span.RecordError(err)
		return
	}

	if err := c.client.CommitRecords(ctx, record); err != nil {
		c.logger.Error("failed to commit offset",
			zap.String("topic", record.Topic),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		span.RecordError(err)
	}
}
