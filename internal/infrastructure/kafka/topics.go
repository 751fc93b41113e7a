// Package kafka provides the streaming infrastructure for the decision
// support core: alert publishing, the vitals observation feed and topic
// bootstrap, built on franz-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names used by the monitoring pipeline.
const (
	// TopicRiskAlerts carries dispatched risk alerts to downstream
	// notification consumers (paging bridge, dashboard feed).
	TopicRiskAlerts = "cds.risk.alerts"
	// TopicAlertsFallback is the operational dead-letter for degraded
	// alerts that no delivery channel accepted.
	TopicAlertsFallback = "cds.alerts.fallback"
	// TopicVitals carries vitals/lab observation snapshots from bedside
	// integration into the latest-vitals cache.
	TopicVitals = "cds.vitals.observations"
)

// TopicConfig holds configuration for one topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topic set the monitoring pipeline needs.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	return []TopicConfig{
		{
			Name:              TopicRiskAlerts,
			Partitions:        6,
			ReplicationFactor: 1, // set to 3 in production
			Configs: map[string]*string{
				"retention.ms":     ptr("604800000"), // 7 days
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		},
		{
			Name:              TopicAlertsFallback,
			Partitions:        1,
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":     ptr("2592000000"), // 30 days; manual follow-up queue
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		},
		{
			Name:              TopicVitals,
			Partitions:        12, // keyed by patient id, ordered per patient
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":     ptr("86400000"), // 1 day; cache holds the latest
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		},
	}
}

// Admin manages topic lifecycle.
type Admin struct {
	client *kadm.Client
	kgo    *kgo.Client
	logger *zap.Logger
}

// NewAdmin creates an admin client.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(client), kgo: client, logger: logger}, nil
}

// EnsureTopics creates the pipeline topics if they do not exist.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	for _, cfg := range DefaultTopicConfigs() {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil {
				if errors.Is(r.Err, kerr.TopicAlreadyExists) {
					a.logger.Info("topic already exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// Close closes the admin client.
func (a *Admin) Close() {
	a.kgo.Close()
}

// HealthCheck verifies broker connectivity.
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
