// Package rediscache keeps the latest vitals snapshot per patient in
// Redis. The ingest consumer writes, the monitor scheduler reads; the TTL
// makes stale observations age out rather than feed the scorer data that
// no longer reflects the patient.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// DefaultKeyPrefix namespaces vitals cache keys.
const DefaultKeyPrefix = "cds:vitals:"

// DefaultTTL is how long a snapshot stays scorable without a newer
// observation.
const DefaultTTL = 4 * time.Hour

// VitalsCache is the latest-snapshot store.
type VitalsCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// New creates a vitals cache.
func New(client *redis.Client, keyPrefix string, ttl time.Duration) *VitalsCache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &VitalsCache{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (c *VitalsCache) key(patientID string) string {
	return c.keyPrefix + patientID
}

// Put stores a snapshot, replacing any older one. Out-of-order feed
// messages are ignored so the cache never moves backwards in time.
func (c *VitalsCache) Put(ctx context.Context, snapshot clinical.VitalsSnapshot) error {
	current, err := c.get(ctx, snapshot.PatientID)
	if err != nil {
		return err
	}
	if current != nil && current.TakenAt.After(snapshot.TakenAt) {
		return nil
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", snapshot.PatientID, err)
	}
	if err := c.client.Set(ctx, c.key(snapshot.PatientID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set snapshot for %s: %w", snapshot.PatientID, err)
	}
	return nil
}

// LatestSnapshot implements the monitor's snapshot source. A patient with
// no cached observations reports ErrDataUnavailable, which the scheduler
// treats as skip-this-patient.
func (c *VitalsCache) LatestSnapshot(ctx context.Context, patientID string) (clinical.VitalsSnapshot, error) {
	snapshot, err := c.get(ctx, patientID)
	if err != nil {
		return clinical.VitalsSnapshot{}, err
	}
	if snapshot == nil {
		return clinical.VitalsSnapshot{}, fmt.Errorf("no vitals for patient %s: %w", patientID, clinical.ErrDataUnavailable)
	}
	return *snapshot, nil
}

func (c *VitalsCache) get(ctx context.Context, patientID string) (*clinical.VitalsSnapshot, error) {
	val, err := c.client.Get(ctx, c.key(patientID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot for %s: %w", patientID, err)
	}

	var snapshot clinical.VitalsSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", patientID, err)
	}
	return &snapshot, nil
}
