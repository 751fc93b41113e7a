package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// MemoryStore is an in-memory Source. It backs embedded deployments and
// tests; the production adapter lives in internal/infrastructure/postgres.
type MemoryStore struct {
	mu           sync.RWMutex
	allergies    map[string][]clinical.AllergyRecord
	interactions map[string]clinical.InteractionRule
	drugs        map[string]clinical.DrugInfo
	creatinine   map[string]float64
}

// NewMemoryStore creates an empty in-memory knowledge store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		allergies:    make(map[string][]clinical.AllergyRecord),
		interactions: make(map[string]clinical.InteractionRule),
		drugs:        make(map[string]clinical.DrugInfo),
		creatinine:   make(map[string]float64),
	}
}

// pairKey normalizes an unordered drug pair to a single map key so that
// (A,B) and (B,A) resolve to the same rule.
func pairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// AddPatient registers a patient's allergy set. A patient with no allergies
// must still be registered so lookups do not report missing data.
func (m *MemoryStore) AddPatient(patientID string, allergies ...clinical.AllergyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.allergies[patientID]
	m.allergies[patientID] = append(records, allergies...)
	if m.allergies[patientID] == nil {
		m.allergies[patientID] = []clinical.AllergyRecord{}
	}
}

// AddDrug registers drug metadata.
func (m *MemoryStore) AddDrug(info clinical.DrugInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drugs[strings.ToLower(info.DrugID)] = info
}

// AddInteraction registers an interaction rule for an unordered pair.
func (m *MemoryStore) AddInteraction(rule clinical.InteractionRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions[pairKey(rule.DrugA, rule.DrugB)] = rule
}

// SetCreatinine records the latest creatinine value for a patient.
func (m *MemoryStore) SetCreatinine(patientID string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creatinine[patientID] = value
}

// Allergies implements Source.
func (m *MemoryStore) Allergies(_ context.Context, patientID string) ([]clinical.AllergyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.allergies[patientID]
	if !ok {
		return nil, fmt.Errorf("allergy set for patient %s: %w", patientID, clinical.ErrDataUnavailable)
	}
	out := make([]clinical.AllergyRecord, len(records))
	copy(out, records)
	return out, nil
}

// Interaction implements Source.
func (m *MemoryStore) Interaction(_ context.Context, drugA, drugB string) (*clinical.InteractionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.interactions[pairKey(drugA, drugB)]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

// DrugInfo implements Source.
func (m *MemoryStore) DrugInfo(_ context.Context, drugID string) (*clinical.DrugInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.drugs[strings.ToLower(drugID)]
	if !ok {
		return nil, fmt.Errorf("drug metadata for %s: %w", drugID, clinical.ErrDataUnavailable)
	}
	return &info, nil
}

// LatestCreatinine implements Source.
func (m *MemoryStore) LatestCreatinine(_ context.Context, patientID string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.creatinine[patientID]
	return v, ok, nil
}
