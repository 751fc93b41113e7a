package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/internal/observability/metrics"
)

// Config holds dispatcher policy.
type Config struct {
	// MaxAttempts bounds delivery attempts per channel.
	MaxAttempts int
	// BaseBackoff is the delay before the first retry; it doubles per
	// subsequent attempt.
	BaseBackoff time.Duration
	// ChannelTimeout bounds one Send call.
	ChannelTimeout time.Duration
}

// DefaultConfig returns the standard delivery policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseBackoff:    500 * time.Millisecond,
		ChannelTimeout: 10 * time.Second,
	}
}

// Dispatcher delivers alerts across a fixed channel set.
type Dispatcher struct {
	channels []Channel
	fallback FallbackSink
	history  History
	config   Config
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *metrics.Metrics
}

// New creates a dispatcher. At least one channel is a startup requirement
// enforced by the caller's configuration, not re-checked per alert.
func New(channels []Channel, fallback FallbackSink, history History, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = DefaultConfig().ChannelTimeout
	}
	return &Dispatcher{
		channels: channels,
		fallback: fallback,
		history:  history,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer("alert-dispatcher"),
		metrics:  m,
	}
}

// Dispatch fans the alert out to every channel and resolves the overall
// outcome. It always returns a record; delivery failure degrades the alert
// instead of surfacing as an error, and history persistence failure is
// logged, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, alert clinical.RiskAlert) clinical.DispatchRecord {
	ctx, span := d.tracer.Start(ctx, "dispatch_alert",
		trace.WithAttributes(
			attribute.String("patient_id", alert.PatientID),
			attribute.String("level", alert.Level.String()),
			attribute.Int("channels", len(d.channels)),
		))
	defer span.End()

	results := make([]clinical.ChannelResult, len(d.channels))
	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = d.attemptChannel(ctx, ch, alert)
		}(i, ch)
	}
	wg.Wait()

	record := clinical.DispatchRecord{
		ID:           uuid.New().String(),
		Alert:        alert,
		Channels:     results,
		Status:       clinical.DispatchDegraded,
		DispatchedAt: time.Now().UTC(),
	}
	for _, r := range results {
		if r.Outcome == clinical.OutcomeDelivered {
			record.Status = clinical.DispatchDelivered
			break
		}
	}
	span.SetAttributes(attribute.String("status", string(record.Status)))

	if record.Status == clinical.DispatchDegraded {
		d.logger.Error("alert degraded: no channel accepted delivery",
			zap.String("alert_id", alert.ID),
			zap.String("patient_id", alert.PatientID),
			zap.String("level", alert.Level.String()))
		if d.metrics != nil {
			d.metrics.AlertsDegraded.Inc()
		}
		if d.fallback != nil {
			if err := d.fallback.Degraded(ctx, record); err != nil {
				d.logger.Error("fallback sink failed", zap.Error(err))
			}
		}
	} else if d.metrics != nil {
		d.metrics.AlertsDelivered.Inc()
	}

	if d.history != nil {
		if err := d.history.Record(ctx, record); err != nil {
			d.logger.Error("failed to record dispatch history",
				zap.String("dispatch_id", record.ID),
				zap.Error(err))
		}
	}

	return record
}

// attemptChannel retries one channel with exponential backoff until it
// accepts the alert or the attempt budget is spent.
func (d *Dispatcher) attemptChannel(ctx context.Context, ch Channel, alert clinical.RiskAlert) clinical.ChannelResult {
	ctx, span := d.tracer.Start(ctx, "dispatch_channel",
		trace.WithAttributes(attribute.String("channel", ch.Name())))
	defer span.End()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.config.ChannelTimeout)
		err := ch.Send(sendCtx, alert)
		cancel()
		attempts = attempt

		if err == nil {
			if d.metrics != nil {
				d.metrics.ChannelDeliveries.WithLabelValues(ch.Name(), "delivered").Inc()
			}
			return clinical.ChannelResult{
				Channel:  ch.Name(),
				Outcome:  clinical.OutcomeDelivered,
				Attempts: attempts,
			}
		}
		lastErr = err
		d.logger.Warn("channel delivery failed",
			zap.String("channel", ch.Name()),
			zap.String("alert_id", alert.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < d.config.MaxAttempts {
			select {
			case <-ctx.Done():
				// Cancelled during backoff: give up without burning the
				// remaining attempts, and report only the sends made.
				lastErr = ctx.Err()
				attempt = d.config.MaxAttempts
			case <-time.After(backoffFor(d.config.BaseBackoff, attempt)):
			}
		}
	}

	span.RecordError(lastErr)
	if d.metrics != nil {
		d.metrics.ChannelDeliveries.WithLabelValues(ch.Name(), "failed").Inc()
	}
	dispatchErr := &clinical.DispatchError{Channel: ch.Name(), Attempts: attempts, Err: lastErr}
	return clinical.ChannelResult{
		Channel:  ch.Name(),
		Outcome:  clinical.OutcomeFailed,
		Attempts: attempts,
		Error:    dispatchErr.Error(),
	}
}
