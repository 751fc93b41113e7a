// Package alertstate keeps the per-patient record of the last emitted risk
// alert. The scheduler is the single logical writer; the KeyedMutex gives
// it per-patient serialization so concurrent evaluation workers never race
// on the same patient's state.
package alertstate

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// Store reads and writes per-patient alert state. Get returns nil state
// (and nil error) for a patient who has never been alerted.
type Store interface {
	Get(ctx context.Context, patientID string) (*clinical.AlertState, error)
	Put(ctx context.Context, state clinical.AlertState) error
}

// KeyedMutex serializes access per key using lock striping.
type KeyedMutex struct {
	stripes []sync.Mutex
}

// NewKeyedMutex creates a keyed mutex with the given stripe count.
func NewKeyedMutex(stripes int) *KeyedMutex {
	if stripes <= 0 {
		stripes = 64
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	stripe := &m.stripes[int(h.Sum32())%len(m.stripes)]
	stripe.Lock()
	return stripe.Unlock
}

// MemoryStore is an in-process Store for embedded deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]clinical.AlertState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]clinical.AlertState)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, patientID string) (*clinical.AlertState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[patientID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, state clinical.AlertState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.PatientID] = state
	return nil
}
