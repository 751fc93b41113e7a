package dispatch

import (
	"context"
	"sync"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// MemoryHistory keeps dispatch records in memory, ordered by dispatch time
// per patient. For embedded deployments and tests; the durable adapter
// lives in internal/infrastructure/postgres.
type MemoryHistory struct {
	mu      sync.RWMutex
	records map[string][]clinical.DispatchRecord
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[string][]clinical.DispatchRecord)}
}

// Record implements History. Records arrive in dispatch order per patient
// because the scheduler resolves one decision per patient at a time.
func (h *MemoryHistory) Record(_ context.Context, record clinical.DispatchRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	pid := record.Alert.PatientID
	h.records[pid] = append(h.records[pid], record)
	return nil
}

// ListByPatient implements History.
func (h *MemoryHistory) ListByPatient(_ context.Context, patientID string) ([]clinical.DispatchRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	records := h.records[patientID]
	out := make([]clinical.DispatchRecord, len(records))
	copy(out, records)
	return out, nil
}
