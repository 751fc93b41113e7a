// Package circuitbreaker wraps sony/gobreaker with OpenTelemetry
// instrumentation. The monitoring pipeline uses it to shield the risk
// scoring backend: a scorer that keeps failing trips the breaker and
// subsequent cycles skip straight to the unavailable path instead of
// burning their timeout budget per patient.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrOpen is returned when a call is rejected because the circuit is open
// or half-open capacity is exhausted.
var ErrOpen = errors.New("circuit breaker open")

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string
	// MaxRequests is max probe requests allowed in half-open state.
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration
	// Timeout is how long to stay open before probing half-open.
	Timeout time.Duration
	// FailureThreshold opens the circuit on this many consecutive failures
	// before MinRequests is reached.
	FailureThreshold uint32
	// FailureRatio opens the circuit once MinRequests have been seen and
	// this fraction of them failed.
	FailureRatio float64
	// MinRequests is the minimum request count before FailureRatio applies.
	MinRequests uint32
}

// DefaultConfig returns defaults tuned for a scoring backend polled every
// monitoring cycle.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// Breaker wraps gobreaker with tracing, metrics and logging.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	requestCounter metric.Int64Counter
	failureCounter metric.Int64Counter
	rejectCounter  metric.Int64Counter

	mu    sync.RWMutex
	state State
}

// New creates a circuit breaker.
func New(cfg Config, logger *zap.Logger) (*Breaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
		state:  StateClosed,
	}

	meter := otel.Meter("circuit-breaker")
	var err error
	if b.requestCounter, err = meter.Int64Counter("circuit_breaker_requests_total",
		metric.WithDescription("Total requests through circuit breaker")); err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	if b.failureCounter, err = meter.Int64Counter("circuit_breaker_failures_total",
		metric.WithDescription("Total failed requests")); err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	if b.rejectCounter, err = meter.Int64Counter("circuit_breaker_rejections_total",
		metric.WithDescription("Total requests rejected due to open circuit")); err != nil {
		return nil, fmt.Errorf("create rejection counter: %w", err)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.onStateChange(from, to)
		},
	})

	return b, nil
}

// Execute runs fn through the breaker. Rejections due to an open circuit
// are reported as ErrOpen so callers can distinguish "backend down" from
// "backend failed this call".
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	ctx, span := b.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", b.name),
			attribute.String("state", string(b.State())),
		))
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("name", b.name))
	b.requestCounter.Add(ctx, 1, attrs)

	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.rejectCounter.Add(ctx, 1, attrs)
			span.SetAttributes(attribute.Bool("circuit_open", true))
			return nil, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.failureCounter.Add(ctx, 1, attrs)
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Counts returns the underlying gobreaker counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

func (b *Breaker) onStateChange(from, to gobreaker.State) {
	b.mu.Lock()
	b.state = mapState(to)
	b.mu.Unlock()

	b.logger.Warn("circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("from", string(mapState(from))),
		zap.String("to", string(mapState(to))))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
