package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/alertstate"
	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/internal/observability/metrics"
	"github.com/carewatch/go-cds/internal/risk"
	"github.com/carewatch/go-cds/pkg/workerpool"
)

// Scheduler drives the monitoring loop. At most one cycle runs at a time;
// a tick or trigger arriving while a cycle is in flight is refused and
// logged, never queued.
type Scheduler struct {
	admissions AdmissionSource
	snapshots  SnapshotSource
	scorer     risk.Scorer
	states     alertstate.Store
	stateLocks *alertstate.KeyedMutex
	dispatcher Dispatcher
	config     Config
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics

	inFlight int32 // cycle guard, CAS 0->1

	mu        sync.Mutex // guards lifecycle fields below
	running   bool
	loopCtx   context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	trigger   chan struct{}
	lastCycle CycleStats
}

// NewScheduler wires the monitoring pipeline.
func NewScheduler(
	admissions AdmissionSource,
	snapshots SnapshotSource,
	scorer risk.Scorer,
	states alertstate.Store,
	dispatcher Dispatcher,
	cfg Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.RepeatInterval <= 0 {
		cfg.RepeatInterval = DefaultConfig().RepeatInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Scheduler{
		admissions: admissions,
		snapshots:  snapshots,
		scorer:     scorer,
		states:     states,
		stateLocks: alertstate.NewKeyedMutex(64),
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
		tracer:     otel.Tracer("monitor-scheduler"),
		metrics:    m,
	}
}

// Start launches the periodic loop. Starting an already-running scheduler
// is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.loopCtx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.trigger = make(chan struct{}, 1)
	s.running = true

	go s.loop(s.loopCtx, s.done, s.trigger)
	s.logger.Info("monitoring started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("repeat_interval", s.config.RepeatInterval),
		zap.Int("concurrency", s.config.Concurrency))
}

// Stop cancels the loop and waits for any in-flight cycle to drain.
// Cancellation is cooperative: in-flight patient evaluations finish, no new
// ones start. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("monitoring stopped")
}

// TriggerNow requests an on-demand cycle outside the interval. Returns
// ErrMonitorRunning when a cycle is already in flight.
func (s *Scheduler) TriggerNow() error {
	s.mu.Lock()
	running := s.running
	trigger := s.trigger
	s.mu.Unlock()

	if atomic.LoadInt32(&s.inFlight) == 1 {
		return clinical.ErrMonitorRunning
	}
	if !running {
		// One-shot evaluation without the background loop.
		s.runCycle(context.Background())
		return nil
	}
	select {
	case trigger <- struct{}{}:
	default:
	}
	return nil
}

// Status reports lifecycle state and the last completed cycle.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:   s.running,
		CycleBusy: atomic.LoadInt32(&s.inFlight) == 1,
		LastCycle: s.lastCycle,
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, trigger chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		case <-trigger:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one monitoring pass. The cycle admission guard makes
// overlap impossible: a slow scoring backend delays the next cycle instead
// of stacking cycles on top of each other.
func (s *Scheduler) runCycle(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.inFlight, 0, 1) {
		s.logger.Warn("cycle refused: previous cycle still running")
		if s.metrics != nil {
			s.metrics.CyclesRefused.Inc()
		}
		return
	}
	defer atomic.StoreInt32(&s.inFlight, 0)

	start := time.Now().UTC()
	ctx, span := s.tracer.Start(ctx, "monitor_cycle")
	defer span.End()

	if s.metrics != nil {
		s.metrics.CyclesStarted.Inc()
	}

	// Snapshot the admission set at cycle start; additions or discharges
	// mid-cycle are picked up next cycle.
	admissions, err := s.admissions.ListActiveAdmissions(ctx)
	if err != nil {
		s.logger.Error("failed to list active admissions", zap.Error(err))
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.Int("admissions", len(admissions)))
	if s.metrics != nil {
		s.metrics.ActiveAdmissions.Set(float64(len(admissions)))
	}

	stats := CycleStats{StartedAt: start, Admissions: len(admissions)}

	if len(admissions) > 0 {
		s.evaluateAll(ctx, admissions, &stats)
	}

	stats.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.CycleDuration.Observe(stats.Duration.Seconds())
	}

	s.mu.Lock()
	s.lastCycle = stats
	s.mu.Unlock()

	s.logger.Info("monitoring cycle complete",
		zap.Int("admissions", stats.Admissions),
		zap.Int("evaluated", stats.Evaluated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("alerted", stats.Alerted),
		zap.Int("suppressed", stats.Suppressed),
		zap.Duration("duration", stats.Duration))
}

type evalOutcome struct {
	skipped    bool
	skipReason string
	alerted    bool
	suppressed bool
}

// evaluateAll fans the admission snapshot across a bounded worker pool.
// One patient's failure is logged and skipped; it never aborts the cycle
// for the others.
func (s *Scheduler) evaluateAll(ctx context.Context, admissions []clinical.Admission, stats *CycleStats) {
	poolCfg := workerpool.Config{
		Workers:   s.config.Concurrency,
		QueueSize: len(admissions) + 1,
	}
	// Evaluations run under the cycle context, not the pool's internal
	// one, so cancelling the cycle stops queued patients from starting.
	pool, err := workerpool.New(poolCfg, func(_ context.Context, task workerpool.Task) workerpool.Result {
		admission := task.Payload.(clinical.Admission)
		outcome, err := s.evaluatePatient(ctx, admission)
		return workerpool.Result{Value: outcome, Err: err}
	}, s.logger)
	if err != nil {
		s.logger.Error("failed to create evaluation pool", zap.Error(err))
		return
	}
	pool.Start()

	submitted := 0
	for _, admission := range admissions {
		if err := pool.Submit(workerpool.Task{Key: admission.PatientID, Payload: admission}); err != nil {
			s.logger.Error("failed to submit evaluation",
				zap.String("patient_id", admission.PatientID), zap.Error(err))
			stats.Skipped++
			continue
		}
		submitted++
	}

	for i := 0; i < submitted; i++ {
		result := <-pool.Results()
		if result.Err != nil {
			stats.Skipped++
			continue
		}
		outcome := result.Value.(*evalOutcome)
		switch {
		case outcome.skipped:
			stats.Skipped++
		case outcome.alerted:
			stats.Evaluated++
			stats.Alerted++
		case outcome.suppressed:
			stats.Evaluated++
			stats.Suppressed++
		default:
			stats.Evaluated++
		}
	}
	pool.Stop()
}

// evaluatePatient scores one patient and applies the alert decision. All
// per-patient failures convert to a skip outcome; the returned error is
// reserved for programming errors.
func (s *Scheduler) evaluatePatient(ctx context.Context, admission clinical.Admission) (*evalOutcome, error) {
	// Cooperative cancellation: a cancelled cycle finishes in-flight
	// evaluations but starts no new ones.
	if ctx.Err() != nil {
		return &evalOutcome{skipped: true, skipReason: "cancelled"}, nil
	}

	ctx, span := s.tracer.Start(ctx, "evaluate_patient",
		trace.WithAttributes(attribute.String("patient_id", admission.PatientID)))
	defer span.End()

	snapshot, err := s.snapshots.LatestSnapshot(ctx, admission.PatientID)
	if err != nil {
		return s.skip(span, admission.PatientID, "data_unavailable", err), nil
	}

	assessment, err := risk.Assess(ctx, s.scorer, admission.PatientID, snapshot)
	if err != nil {
		reason := "scoring_failed"
		switch {
		case errors.Is(err, clinical.ErrScoringTimeout):
			reason = "scoring_timeout"
		case errors.Is(err, clinical.ErrScoringUnavailable):
			reason = "scoring_unavailable"
		case errors.Is(err, clinical.ErrDataUnavailable):
			reason = "data_unavailable"
		}
		return s.skip(span, admission.PatientID, reason, err), nil
	}

	if s.metrics != nil {
		s.metrics.PatientsEvaluated.Inc()
	}
	span.SetAttributes(
		attribute.Float64("score", assessment.Score),
		attribute.String("level", assessment.Level.String()),
	)

	alerted, err := s.decide(ctx, admission, assessment)
	if err != nil {
		return s.skip(span, admission.PatientID, "state_store", err), nil
	}
	return &evalOutcome{alerted: alerted, suppressed: !alerted}, nil
}

// decide applies the dedup/escalation policy under the patient's state
// lock. The state transition is committed before dispatch so repeated
// delivery failure cannot cause an alert storm.
func (s *Scheduler) decide(ctx context.Context, admission clinical.Admission, assessment *clinical.RiskAssessment) (bool, error) {
	now := time.Now().UTC()

	unlock := s.stateLocks.Lock(admission.PatientID)
	prev, err := s.states.Get(ctx, admission.PatientID)
	if err != nil {
		unlock()
		return false, fmt.Errorf("read alert state: %w", err)
	}

	notify, repeat := shouldNotify(prev, assessment.Level, now, s.config.RepeatInterval)
	if !notify {
		unlock()
		if s.metrics != nil {
			s.metrics.AlertsSuppressed.Inc()
		}
		return false, nil
	}

	if err := s.states.Put(ctx, clinical.AlertState{
		PatientID: admission.PatientID,
		Level:     assessment.Level,
		UpdatedAt: now,
	}); err != nil {
		unlock()
		return false, fmt.Errorf("write alert state: %w", err)
	}
	unlock()

	prevLevel := clinical.LevelNone
	if prev != nil {
		prevLevel = prev.Level
	}

	alert := clinical.RiskAlert{
		ID:        uuid.New().String(),
		PatientID: admission.PatientID,
		Level:     assessment.Level,
		PrevLevel: prevLevel,
		Score:     assessment.Score,
		Repeat:    repeat,
		RaisedAt:  now,
		Ward:      admission.Ward,
		Bed:       admission.Bed,
	}
	if repeat {
		alert.Annotation = "sustained risk, repeat notification"
	}

	if s.metrics != nil {
		s.metrics.AlertsRaised.WithLabelValues(assessment.Level.String()).Inc()
	}
	record := s.dispatcher.Dispatch(ctx, alert)
	s.logger.Info("risk alert dispatched",
		zap.String("patient_id", admission.PatientID),
		zap.String("level", assessment.Level.String()),
		zap.String("prev_level", prevLevel.String()),
		zap.Bool("repeat", repeat),
		zap.String("status", string(record.Status)))
	return true, nil
}

func (s *Scheduler) skip(span trace.Span, patientID, reason string, err error) *evalOutcome {
	s.logger.Warn("patient skipped for this cycle",
		zap.String("patient_id", patientID),
		zap.String("reason", reason),
		zap.Error(err))
	span.RecordError(err)
	span.SetAttributes(attribute.String("skip_reason", reason))
	if s.metrics != nil {
		s.metrics.PatientsSkipped.WithLabelValues(reason).Inc()
	}
	return &evalOutcome{skipped: true, skipReason: reason}
}
