// Package risk defines the pluggable risk scoring boundary and the fixed
// score-to-level policy. The scorer itself is a pure oracle: any backend
// (rule-based, statistical, learned) that returns a value in [0,1]
// satisfies the interface; everything downstream of the score belongs to
// this package.
package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/pkg/circuitbreaker"
)

// Scorer produces a deterioration risk score in [0,1] for a patient's
// latest vitals/labs snapshot.
type Scorer interface {
	Score(ctx context.Context, patientID string, snapshot clinical.VitalsSnapshot) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(ctx context.Context, patientID string, snapshot clinical.VitalsSnapshot) (float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, patientID string, snapshot clinical.VitalsSnapshot) (float64, error) {
	return f(ctx, patientID, snapshot)
}

// Level thresholds are policy owned by this core, not by the scoring
// backend: score > 0.8 is Critical, > 0.6 High, > 0.4 Moderate, else Low.
const (
	CriticalThreshold = 0.8
	HighThreshold     = 0.6
	ModerateThreshold = 0.4
)

// LevelFor maps a continuous score to its risk level.
func LevelFor(score float64) clinical.RiskLevel {
	switch {
	case score > CriticalThreshold:
		return clinical.LevelCritical
	case score > HighThreshold:
		return clinical.LevelHigh
	case score > ModerateThreshold:
		return clinical.LevelModerate
	default:
		return clinical.LevelLow
	}
}

// Assess scores a snapshot and packages the result with its derived level.
func Assess(ctx context.Context, scorer Scorer, patientID string, snapshot clinical.VitalsSnapshot) (*clinical.RiskAssessment, error) {
	score, err := scorer.Score(ctx, patientID, snapshot)
	if err != nil {
		return nil, err
	}
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("scorer returned %f outside [0,1]: %w", score, clinical.ErrScoringUnavailable)
	}
	return &clinical.RiskAssessment{
		PatientID: patientID,
		Timestamp: snapshot.TakenAt,
		Score:     score,
		Level:     LevelFor(score),
	}, nil
}

// BreakerScorer shields a scoring backend with a circuit breaker. An open
// circuit converts to ErrScoringUnavailable so the monitor treats it the
// same as any other backend outage.
type BreakerScorer struct {
	inner   Scorer
	breaker *circuitbreaker.Breaker
}

// NewBreakerScorer wraps a scorer with the given breaker.
func NewBreakerScorer(inner Scorer, breaker *circuitbreaker.Breaker) *BreakerScorer {
	return &BreakerScorer{inner: inner, breaker: breaker}
}

// Score implements Scorer.
func (s *BreakerScorer) Score(ctx context.Context, patientID string, snapshot clinical.VitalsSnapshot) (float64, error) {
	result, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return s.inner.Score(ctx, patientID, snapshot)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return 0, fmt.Errorf("scoring circuit open: %w", clinical.ErrScoringUnavailable)
		}
		return 0, err
	}
	return result.(float64), nil
}
