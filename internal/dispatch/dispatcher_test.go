package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// stubChannel fails the first failures Sends, then succeeds.
type stubChannel struct {
	name     string
	failures int

	mu    sync.Mutex
	calls int
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Send(_ context.Context, _ clinical.RiskAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return errors.New("transport unavailable")
	}
	return nil
}

func (c *stubChannel) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubFallback struct {
	mu      sync.Mutex
	records []clinical.DispatchRecord
}

func (f *stubFallback) Degraded(_ context.Context, record clinical.DispatchRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *stubFallback) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func fastConfig() Config {
	return Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, ChannelTimeout: time.Second}
}

func testAlert() clinical.RiskAlert {
	return clinical.RiskAlert{
		ID:        "alert-1",
		PatientID: "patient-1",
		Level:     clinical.LevelHigh,
		PrevLevel: clinical.LevelModerate,
		Score:     0.7,
		RaisedAt:  time.Now().UTC(),
	}
}

func TestDispatchDeliveredWhenOneChannelSucceeds(t *testing.T) {
	// Channel A exhausts every retry; channel B succeeds immediately.
	chA := &stubChannel{name: "pager", failures: 100}
	chB := &stubChannel{name: "feed"}
	fallback := &stubFallback{}
	history := NewMemoryHistory()

	d := New([]Channel{chA, chB}, fallback, history, fastConfig(), nil, nil)
	record := d.Dispatch(context.Background(), testAlert())

	assert.Equal(t, clinical.DispatchDelivered, record.Status)
	assert.Equal(t, 3, chA.sendCount())
	assert.Equal(t, 1, chB.sendCount())
	assert.Zero(t, fallback.count())

	require.Len(t, record.Channels, 2)
	byName := map[string]clinical.ChannelResult{}
	for _, r := range record.Channels {
		byName[r.Channel] = r
	}
	assert.Equal(t, clinical.OutcomeFailed, byName["pager"].Outcome)
	assert.Equal(t, 3, byName["pager"].Attempts)
	assert.NotEmpty(t, byName["pager"].Error)
	assert.Equal(t, clinical.OutcomeDelivered, byName["feed"].Outcome)
	assert.Equal(t, 1, byName["feed"].Attempts)
}

func TestDispatchRetriesBeforeSucceeding(t *testing.T) {
	ch := &stubChannel{name: "pager", failures: 2}
	d := New([]Channel{ch}, nil, nil, fastConfig(), nil, nil)

	record := d.Dispatch(context.Background(), testAlert())

	assert.Equal(t, clinical.DispatchDelivered, record.Status)
	require.Len(t, record.Channels, 1)
	assert.Equal(t, 3, record.Channels[0].Attempts)
}

func TestDispatchDegradedWhenAllChannelsFail(t *testing.T) {
	chA := &stubChannel{name: "pager", failures: 100}
	chB := &stubChannel{name: "feed", failures: 100}
	fallback := &stubFallback{}
	history := NewMemoryHistory()

	d := New([]Channel{chA, chB}, fallback, history, fastConfig(), nil, nil)
	record := d.Dispatch(context.Background(), testAlert())

	assert.Equal(t, clinical.DispatchDegraded, record.Status)
	assert.Equal(t, 1, fallback.count())

	// The degraded dispatch is still recorded in history.
	records, err := history.ListByPatient(context.Background(), "patient-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, clinical.DispatchDegraded, records[0].Status)
}

func TestDispatchRecordsHistory(t *testing.T) {
	ch := &stubChannel{name: "feed"}
	history := NewMemoryHistory()
	d := New([]Channel{ch}, nil, history, fastConfig(), nil, nil)

	first := d.Dispatch(context.Background(), testAlert())
	second := d.Dispatch(context.Background(), testAlert())
	assert.NotEqual(t, first.ID, second.ID)

	records, err := history.ListByPatient(context.Background(), "patient-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
}

// cancellingChannel fails every Send and cancels the dispatch context on
// the first one, so the dispatcher gives up during backoff.
type cancellingChannel struct {
	cancel context.CancelFunc

	mu    sync.Mutex
	calls int
}

func (c *cancellingChannel) Name() string { return "pager" }

func (c *cancellingChannel) Send(_ context.Context, _ clinical.RiskAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == 1 {
		c.cancel()
	}
	return errors.New("transport unavailable")
}

func TestAttemptsReportSendsMadeWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := &cancellingChannel{cancel: cancel}

	cfg := Config{MaxAttempts: 3, BaseBackoff: 10 * time.Second, ChannelTimeout: time.Second}
	d := New([]Channel{ch}, nil, nil, cfg, nil, nil)

	record := d.Dispatch(ctx, testAlert())

	assert.Equal(t, clinical.DispatchDegraded, record.Status)
	require.Len(t, record.Channels, 1)
	// Cancelled after the first send: the record reports one attempt,
	// not the full retry budget.
	assert.Equal(t, 1, record.Channels[0].Attempts)
	assert.Equal(t, clinical.OutcomeFailed, record.Channels[0].Outcome)
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, PriorityRoutine, PriorityFor(clinical.LevelLow))
	assert.Equal(t, PriorityRoutine, PriorityFor(clinical.LevelModerate))
	assert.Equal(t, PriorityUrgent, PriorityFor(clinical.LevelHigh))
	assert.Equal(t, PriorityStat, PriorityFor(clinical.LevelCritical))
}

func TestBackoffDoubles(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, 500*time.Millisecond, backoffFor(base, 1))
	assert.Equal(t, time.Second, backoffFor(base, 2))
	assert.Equal(t, 2*time.Second, backoffFor(base, 3))
}
