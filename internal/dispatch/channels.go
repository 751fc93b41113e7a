package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// LogChannel writes alerts to the structured log. It doubles as the
// dashboard feed in embedded deployments and as a safe default channel
// when no external sinks are configured yet.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a log-backed channel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

// Name implements Channel.
func (c *LogChannel) Name() string { return "log" }

// Send implements Channel.
func (c *LogChannel) Send(_ context.Context, alert clinical.RiskAlert) error {
	c.logger.Warn("clinical risk alert",
		zap.String("alert_id", alert.ID),
		zap.String("patient_id", alert.PatientID),
		zap.String("level", alert.Level.String()),
		zap.String("prev_level", alert.PrevLevel.String()),
		zap.Float64("score", alert.Score),
		zap.Bool("repeat", alert.Repeat),
		zap.String("priority", string(PriorityFor(alert.Level))),
		zap.String("ward", alert.Ward),
		zap.String("bed", alert.Bed))
	return nil
}

// LogFallback is the operational fallback of last resort: when every
// delivery channel has failed, the degraded alert is written to the error
// log so operators can follow up manually.
type LogFallback struct {
	logger *zap.Logger
}

// NewLogFallback creates a log-backed fallback sink.
func NewLogFallback(logger *zap.Logger) *LogFallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogFallback{logger: logger}
}

// Degraded implements FallbackSink.
func (f *LogFallback) Degraded(_ context.Context, record clinical.DispatchRecord) error {
	f.logger.Error("DEGRADED ALERT requires manual follow-up",
		zap.String("dispatch_id", record.ID),
		zap.String("alert_id", record.Alert.ID),
		zap.String("patient_id", record.Alert.PatientID),
		zap.String("level", record.Alert.Level.String()),
		zap.Float64("score", record.Alert.Score))
	return nil
}
