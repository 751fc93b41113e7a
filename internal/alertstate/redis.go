package alertstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// DefaultKeyPrefix namespaces alert state keys in Redis.
const DefaultKeyPrefix = "cds:alert-state:"

// RedisStore persists alert state in Redis so scheduler restarts do not
// forget which patients were already alerted (forgetting would re-raise
// every standing alert on the next cycle).
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a Redis-backed store. A zero ttl keeps entries
// until overwritten; a positive ttl lets state for discharged patients age
// out on its own.
func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) key(patientID string) string {
	return s.keyPrefix + patientID
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, patientID string) (*clinical.AlertState, error) {
	val, err := s.client.Get(ctx, s.key(patientID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get alert state for %s: %w", patientID, err)
	}

	var state clinical.AlertState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("decode alert state for %s: %w", patientID, err)
	}
	return &state, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, state clinical.AlertState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode alert state for %s: %w", state.PatientID, err)
	}
	if err := s.client.Set(ctx, s.key(state.PatientID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set alert state for %s: %w", state.PatientID, err)
	}
	return nil
}
