package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// DefaultScoreTimeout bounds a single scoring call.
const DefaultScoreTimeout = 5 * time.Second

// TimeoutScorer enforces a per-call deadline on an inner scorer. Exceeding
// the deadline converts to ErrScoringTimeout for that patient only; the
// inner call is abandoned via context cancellation.
type TimeoutScorer struct {
	inner   Scorer
	timeout time.Duration
}

// NewTimeoutScorer wraps a scorer with a per-call timeout.
func NewTimeoutScorer(inner Scorer, timeout time.Duration) *TimeoutScorer {
	if timeout <= 0 {
		timeout = DefaultScoreTimeout
	}
	return &TimeoutScorer{inner: inner, timeout: timeout}
}

// Score implements Scorer.
func (s *TimeoutScorer) Score(ctx context.Context, patientID string, snapshot clinical.VitalsSnapshot) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		score float64
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		score, err := s.inner.Score(ctx, patientID, snapshot)
		done <- outcome{score, err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("scoring %s exceeded %s: %w", patientID, s.timeout, clinical.ErrScoringTimeout)
		}
		return 0, ctx.Err()
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("scoring %s exceeded %s: %w", patientID, s.timeout, clinical.ErrScoringTimeout)
		}
		return out.score, out.err
	}
}
