package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carewatch/go-cds/internal/dispatch"
	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// Channel publishes risk alerts to the alert topic, keyed by patient id so
// per-patient ordering is preserved for downstream consumers.
type Channel struct {
	producer *Producer
	topic    string
}

// alertMessage is the wire shape published to the alert topic.
type alertMessage struct {
	clinical.RiskAlert
	Priority dispatch.Priority `json:"priority"`
}

// NewChannel creates an alert channel over the given producer. An empty
// topic uses TopicRiskAlerts.
func NewChannel(producer *Producer, topic string) *Channel {
	if topic == "" {
		topic = TopicRiskAlerts
	}
	return &Channel{producer: producer, topic: topic}
}

// Name implements dispatch.Channel.
func (c *Channel) Name() string { return "kafka" }

// Send implements dispatch.Channel.
func (c *Channel) Send(ctx context.Context, alert clinical.RiskAlert) error {
	payload, err := json.Marshal(alertMessage{RiskAlert: alert, Priority: dispatch.PriorityFor(alert.Level)})
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	return c.producer.Produce(ctx, c.topic, alert.PatientID, payload)
}

// Fallback publishes degraded alerts to the fallback topic for manual
// follow-up. It is a dispatch.FallbackSink.
type Fallback struct {
	producer *Producer
	topic    string
}

// NewFallback creates a fallback sink over the given producer. An empty
// topic uses TopicAlertsFallback.
func NewFallback(producer *Producer, topic string) *Fallback {
	if topic == "" {
		topic = TopicAlertsFallback
	}
	return &Fallback{producer: producer, topic: topic}
}

// Degraded implements dispatch.FallbackSink.
func (f *Fallback) Degraded(ctx context.Context, record clinical.DispatchRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode dispatch record %s: %w", record.ID, err)
	}
	return f.producer.Produce(ctx, f.topic, record.Alert.PatientID, payload)
}
