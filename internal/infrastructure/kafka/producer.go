package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig holds producer configuration.
type ProducerConfig struct {
	// Brokers is the list of broker addresses.
	Brokers []string
	// LingerMS is the batching linger. Alert volume is low, so a short
	// linger keeps delivery latency down.
	LingerMS int64
	// MaxRetries bounds retries for failed sends inside the client.
	MaxRetries int
	// RetryBackoffMS is the backoff between client retries.
	RetryBackoffMS int64
}

// DefaultProducerConfig returns defaults tuned for alert publishing.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:        []string{"localhost:9092"},
		LingerMS:       5,
		MaxRetries:     3,
		RetryBackoffMS: 100,
	}
}

// Producer publishes alert and fallback messages.
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	mu           sync.Mutex
	messagesSent int64
	errorCount   int64
}

// NewProducer creates a producer. Acks from all in-sync replicas: a risk
// alert must not be lost to a broker failover.
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return time.Duration(cfg.RetryBackoffMS) * time.Millisecond * time.Duration(attempt+1)
		}),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("kafka-producer"),
	}, nil
}

// Produce sends one message and waits for the broker acknowledgment.
func (p *Producer) Produce(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "produce_message",
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("key", key),
			attribute.Int("value_size", len(value)),
		))
	defer span.End()

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	var produceErr error
	var wg sync.WaitGroup
	wg.Add(1)
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		defer wg.Done()
		if err != nil {
			produceErr = err
			p.count(&p.errorCount)
			span.RecordError(err)
		} else {
			p.count(&p.messagesSent)
			p.logger.Debug("message produced",
				zap.String("topic", r.Topic),
				zap.Int32("partition", r.Partition),
				zap.Int64("offset", r.Offset))
		}
	})
	wg.Wait()

	if produceErr != nil {
		return fmt.Errorf("produce to %s: %w", topic, produceErr)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("error flushing on close", zap.Error(err))
	}
	p.client.Close()
	return nil
}

func (p *Producer) count(field *int64) {
	p.mu.Lock()
	*field++
	p.mu.Unlock()
}
