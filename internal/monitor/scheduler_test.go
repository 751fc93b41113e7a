package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carewatch/go-cds/internal/alertstate"
	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/internal/risk"
)

type fakeAdmissions struct {
	admissions []clinical.Admission
}

func (f *fakeAdmissions) ListActiveAdmissions(context.Context) ([]clinical.Admission, error) {
	return f.admissions, nil
}

type fakeSnapshots struct {
	mu        sync.Mutex
	snapshots map[string]clinical.VitalsSnapshot
	missing   map[string]bool
}

func (f *fakeSnapshots) LatestSnapshot(_ context.Context, patientID string) (clinical.VitalsSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[patientID] {
		return clinical.VitalsSnapshot{}, fmt.Errorf("no observations for %s: %w", patientID, clinical.ErrDataUnavailable)
	}
	snap, ok := f.snapshots[patientID]
	if !ok {
		return clinical.VitalsSnapshot{}, fmt.Errorf("no observations for %s: %w", patientID, clinical.ErrDataUnavailable)
	}
	return snap, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	alerts []clinical.RiskAlert
}

func (f *fakeDispatcher) Dispatch(_ context.Context, alert clinical.RiskAlert) clinical.DispatchRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return clinical.DispatchRecord{
		ID:     "dispatch-" + alert.ID,
		Alert:  alert,
		Status: clinical.DispatchDelivered,
		Channels: []clinical.ChannelResult{
			{Channel: "test", Outcome: clinical.OutcomeDelivered, Attempts: 1},
		},
		DispatchedAt: time.Now().UTC(),
	}
}

func (f *fakeDispatcher) dispatched() []clinical.RiskAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]clinical.RiskAlert, len(f.alerts))
	copy(out, f.alerts)
	return out
}

func admissionsFor(patientIDs ...string) *fakeAdmissions {
	f := &fakeAdmissions{}
	for _, id := range patientIDs {
		f.admissions = append(f.admissions, clinical.Admission{
			ID:         "adm-" + id,
			PatientID:  id,
			Ward:       "icu",
			Status:     clinical.AdmissionActive,
			AdmittedAt: time.Now().Add(-24 * time.Hour),
		})
	}
	return f
}

func snapshotsFor(patientIDs ...string) *fakeSnapshots {
	f := &fakeSnapshots{
		snapshots: make(map[string]clinical.VitalsSnapshot),
		missing:   make(map[string]bool),
	}
	for _, id := range patientIDs {
		f.snapshots[id] = clinical.VitalsSnapshot{PatientID: id, TakenAt: time.Now().UTC()}
	}
	return f
}

// scoreTable returns a scorer that scores each patient from a fixed table
// and fails patients listed in errs.
func scoreTable(scores map[string]float64, errs map[string]error) risk.Scorer {
	return risk.ScorerFunc(func(_ context.Context, patientID string, _ clinical.VitalsSnapshot) (float64, error) {
		if err, ok := errs[patientID]; ok {
			return 0, err
		}
		return scores[patientID], nil
	})
}

func newTestScheduler(admissions AdmissionSource, snapshots SnapshotSource, scorer risk.Scorer, states alertstate.Store, dispatcher Dispatcher) *Scheduler {
	return NewScheduler(admissions, snapshots, scorer, states, dispatcher, Config{
		Interval:       time.Hour, // ticks never fire in tests
		RepeatInterval: time.Hour,
		Concurrency:    4,
	}, nil, nil)
}

func TestCycleIsolatesPatientFailure(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	scorer := scoreTable(
		map[string]float64{"p1": 0.85, "p3": 0.5},
		map[string]error{"p2": fmt.Errorf("backend: %w", clinical.ErrScoringTimeout)},
	)
	sched := newTestScheduler(
		admissionsFor("p1", "p2", "p3"),
		snapshotsFor("p1", "p2", "p3"),
		scorer, alertstate.NewMemoryStore(), dispatcher)

	require.NoError(t, sched.TriggerNow())

	stats := sched.Status().LastCycle
	assert.Equal(t, 3, stats.Admissions)
	assert.Equal(t, 2, stats.Evaluated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Alerted)

	alerts := dispatcher.dispatched()
	require.Len(t, alerts, 2)
	byPatient := map[string]clinical.RiskAlert{}
	for _, a := range alerts {
		byPatient[a.PatientID] = a
	}
	assert.Equal(t, clinical.LevelCritical, byPatient["p1"].Level)
	assert.Equal(t, clinical.LevelModerate, byPatient["p3"].Level)
	assert.NotContains(t, byPatient, "p2")
}

func TestCycleSkipsMissingSnapshot(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	snapshots := snapshotsFor("p1")
	snapshots.missing["p2"] = true

	sched := newTestScheduler(
		admissionsFor("p1", "p2"),
		snapshots,
		scoreTable(map[string]float64{"p1": 0.9}, nil),
		alertstate.NewMemoryStore(), dispatcher)

	require.NoError(t, sched.TriggerNow())

	stats := sched.Status().LastCycle
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 1, stats.Skipped)
	require.Len(t, dispatcher.dispatched(), 1)
}

func TestUnchangedLevelSuppressed(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	sched := newTestScheduler(
		admissionsFor("p1"),
		snapshotsFor("p1"),
		scoreTable(map[string]float64{"p1": 0.5}, nil),
		alertstate.NewMemoryStore(), dispatcher)

	require.NoError(t, sched.TriggerNow())
	require.NoError(t, sched.TriggerNow())

	// First cycle alerts on the transition none -> moderate; the second
	// suppresses the unchanged level.
	alerts := dispatcher.dispatched()
	require.Len(t, alerts, 1)
	assert.Equal(t, clinical.LevelModerate, alerts[0].Level)
	assert.Equal(t, clinical.LevelNone, alerts[0].PrevLevel)

	stats := sched.Status().LastCycle
	assert.Equal(t, 1, stats.Suppressed)
	assert.Equal(t, 0, stats.Alerted)
}

func TestEscalationAlertsOnce(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	scores := map[string]float64{"p1": 0.5}
	var mu sync.Mutex
	scorer := risk.ScorerFunc(func(_ context.Context, patientID string, _ clinical.VitalsSnapshot) (float64, error) {
		mu.Lock()
		defer mu.Unlock()
		return scores[patientID], nil
	})
	sched := newTestScheduler(
		admissionsFor("p1"), snapshotsFor("p1"), scorer,
		alertstate.NewMemoryStore(), dispatcher)

	require.NoError(t, sched.TriggerNow())
	mu.Lock()
	scores["p1"] = 0.7
	mu.Unlock()
	require.NoError(t, sched.TriggerNow())

	alerts := dispatcher.dispatched()
	require.Len(t, alerts, 2)
	assert.Equal(t, clinical.LevelModerate, alerts[0].Level)
	assert.Equal(t, clinical.LevelHigh, alerts[1].Level)
	assert.Equal(t, clinical.LevelModerate, alerts[1].PrevLevel)
	assert.False(t, alerts[1].Repeat)
}

func TestDeEscalationSuppressed(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	states := alertstate.NewMemoryStore()
	require.NoError(t, states.Put(context.Background(), clinical.AlertState{
		PatientID: "p1",
		Level:     clinical.LevelCritical,
		UpdatedAt: time.Now().UTC(),
	}))

	sched := newTestScheduler(
		admissionsFor("p1"), snapshotsFor("p1"),
		scoreTable(map[string]float64{"p1": 0.5}, nil),
		states, dispatcher)

	require.NoError(t, sched.TriggerNow())
	assert.Empty(t, dispatcher.dispatched())
}

func TestRepeatNotifyForSustainedCritical(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	states := alertstate.NewMemoryStore()
	require.NoError(t, states.Put(context.Background(), clinical.AlertState{
		PatientID: "p1",
		Level:     clinical.LevelCritical,
		UpdatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}))

	sched := newTestScheduler(
		admissionsFor("p1"), snapshotsFor("p1"),
		scoreTable(map[string]float64{"p1": 0.95}, nil),
		states, dispatcher)

	require.NoError(t, sched.TriggerNow())

	alerts := dispatcher.dispatched()
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Repeat)
	assert.Equal(t, clinical.LevelCritical, alerts[0].Level)
	assert.NotEmpty(t, alerts[0].Annotation)

	// The repeat refreshed the stored timestamp; an immediate re-check
	// suppresses.
	require.NoError(t, sched.TriggerNow())
	assert.Len(t, dispatcher.dispatched(), 1)
}

func TestTriggerNowRefusedWhileCycleInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	scorer := risk.ScorerFunc(func(_ context.Context, _ string, _ clinical.VitalsSnapshot) (float64, error) {
		close(entered)
		<-release
		return 0.5, nil
	})

	sched := newTestScheduler(
		admissionsFor("p1"), snapshotsFor("p1"), scorer,
		alertstate.NewMemoryStore(), &fakeDispatcher{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.TriggerNow()
	}()

	<-entered
	err := sched.TriggerNow()
	assert.ErrorIs(t, err, clinical.ErrMonitorRunning)
	assert.True(t, sched.Status().CycleBusy)

	close(release)
	<-done
	assert.False(t, sched.Status().CycleBusy)
}

func TestStopStartsNoNewEvaluations(t *testing.T) {
	var calls int64
	entered := make(chan struct{})
	release := make(chan struct{})
	scorer := risk.ScorerFunc(func(_ context.Context, _ string, _ clinical.VitalsSnapshot) (float64, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		return 0.9, nil
	})

	dispatcher := &fakeDispatcher{}
	sched := NewScheduler(
		admissionsFor("p1", "p2", "p3"),
		snapshotsFor("p1", "p2", "p3"),
		scorer, alertstate.NewMemoryStore(), dispatcher,
		Config{Interval: time.Hour, RepeatInterval: time.Hour, Concurrency: 1},
		nil, nil)

	sched.Start()
	require.NoError(t, sched.TriggerNow())
	<-entered

	// Stop blocks until the cycle drains; cancellation must let the
	// in-flight evaluation finish but start none of the queued ones.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sched.Stop()
	}()
	require.Eventually(t, func() bool {
		return !sched.Status().Running
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the cancel propagate to the cycle

	close(release)
	<-stopped

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	stats := sched.Status().LastCycle
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 2, stats.Skipped)
	assert.Len(t, dispatcher.dispatched(), 1)
}

// degradedDispatcher reports every delivery as degraded.
type degradedDispatcher struct {
	fakeDispatcher
}

func (f *degradedDispatcher) Dispatch(ctx context.Context, alert clinical.RiskAlert) clinical.DispatchRecord {
	record := f.fakeDispatcher.Dispatch(ctx, alert)
	record.Status = clinical.DispatchDegraded
	record.Channels = []clinical.ChannelResult{
		{Channel: "test", Outcome: clinical.OutcomeFailed, Attempts: 3, Error: "transport unavailable"},
	}
	return record
}

func TestStateCommittedBeforeDispatchOutcome(t *testing.T) {
	dispatcher := &degradedDispatcher{}
	states := alertstate.NewMemoryStore()
	sched := newTestScheduler(
		admissionsFor("p1"), snapshotsFor("p1"),
		scoreTable(map[string]float64{"p1": 0.95}, nil),
		states, dispatcher)

	require.NoError(t, sched.TriggerNow())

	// The degraded delivery does not roll back the state transition.
	state, err := states.Get(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, clinical.LevelCritical, state.Level)

	// The next cycle at the same level suppresses instead of re-raising,
	// so repeated delivery failure cannot become an alert storm.
	require.NoError(t, sched.TriggerNow())
	assert.Len(t, dispatcher.dispatched(), 1)
	assert.Equal(t, 1, sched.Status().LastCycle.Suppressed)
}

func TestStartStopIdempotent(t *testing.T) {
	sched := newTestScheduler(
		admissionsFor(), snapshotsFor(),
		scoreTable(nil, nil),
		alertstate.NewMemoryStore(), &fakeDispatcher{})

	sched.Start()
	sched.Start()
	assert.True(t, sched.Status().Running)

	sched.Stop()
	sched.Stop()
	assert.False(t, sched.Status().Running)
}

func TestTriggerWhileRunningUsesLoop(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	sched := newTestScheduler(
		admissionsFor("p1"), snapshotsFor("p1"),
		scoreTable(map[string]float64{"p1": 0.9}, nil),
		alertstate.NewMemoryStore(), dispatcher)

	sched.Start()
	defer sched.Stop()

	require.NoError(t, sched.TriggerNow())
	require.Eventually(t, func() bool {
		return len(dispatcher.dispatched()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
