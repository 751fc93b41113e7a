// Package dispatch fans a risk alert out to delivery channels. Channels are
// attempted independently and concurrently; one channel's failure never
// blocks another. Delivery succeeds when at least one channel accepts the
// alert; total failure degrades the alert to a fallback sink for manual
// follow-up instead of failing the monitoring cycle.
package dispatch

import (
	"context"
	"time"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// Channel is one delivery target (paging, messaging, dashboard feed). The
// implementation lives outside this core; a single Send either lands the
// alert or returns an error for the dispatcher to retry.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert clinical.RiskAlert) error
}

// FallbackSink receives alerts that no channel could deliver.
type FallbackSink interface {
	Degraded(ctx context.Context, record clinical.DispatchRecord) error
}

// History records resolved dispatches and serves per-patient alert history.
type History interface {
	Record(ctx context.Context, record clinical.DispatchRecord) error
	ListByPatient(ctx context.Context, patientID string) ([]clinical.DispatchRecord, error)
}

// Priority is the delivery urgency channels may use to pick transport
// behavior (page vs. feed entry).
type Priority string

const (
	PriorityRoutine Priority = "routine"
	PriorityUrgent  Priority = "urgent"
	PriorityStat    Priority = "stat"
)

// PriorityFor maps a risk level to its delivery priority.
func PriorityFor(level clinical.RiskLevel) Priority {
	switch {
	case level >= clinical.LevelCritical:
		return PriorityStat
	case level >= clinical.LevelHigh:
		return PriorityUrgent
	default:
		return PriorityRoutine
	}
}

// backoffFor returns the delay before retry attempt n (1-based), doubling
// from base.
func backoffFor(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
