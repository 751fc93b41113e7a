// Package monitor implements the continuous risk monitoring scheduler: a
// periodic driver that snapshots active admissions, scores each patient
// across a bounded worker pool, applies the escalation/dedup policy against
// stored alert state, and hands decided alerts to the dispatcher.
package monitor

import (
	"context"
	"time"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// AdmissionSource lists the patients currently under monitoring. Owned by
// the external admission workflow; the scheduler never mutates admissions.
type AdmissionSource interface {
	ListActiveAdmissions(ctx context.Context) ([]clinical.Admission, error)
}

// SnapshotSource returns a patient's latest vitals/labs bundle for scoring.
// Implementations return an error wrapping clinical.ErrDataUnavailable when
// no recent observations exist.
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context, patientID string) (clinical.VitalsSnapshot, error)
}

// Dispatcher delivers a decided alert. The returned record reflects
// per-channel outcomes; delivery failure does not roll back the alert
// state transition that preceded it.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert clinical.RiskAlert) clinical.DispatchRecord
}

// Config holds scheduler policy.
type Config struct {
	// Interval is the period between cycles.
	Interval time.Duration
	// RepeatInterval is how old a stored High/Critical alert must be
	// before it re-notifies without escalation.
	RepeatInterval time.Duration
	// Concurrency caps concurrent per-patient evaluations per cycle.
	Concurrency int
}

// DefaultConfig returns the standard monitoring policy.
func DefaultConfig() Config {
	return Config{
		Interval:       15 * time.Minute,
		RepeatInterval: 60 * time.Minute,
		Concurrency:    8,
	}
}

// CycleStats summarizes one completed cycle.
type CycleStats struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Admissions int           `json:"admissions"`
	Evaluated  int           `json:"evaluated"`
	Skipped    int           `json:"skipped"`
	Alerted    int           `json:"alerted"`
	Suppressed int           `json:"suppressed"`
}

// Status reports the scheduler's lifecycle and last cycle.
type Status struct {
	Running   bool       `json:"running"`
	CycleBusy bool       `json:"cycle_in_flight"`
	LastCycle CycleStats `json:"last_cycle"`
}
