package risk

import (
	"context"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// EarlyWarningScorer is the default rule-based scoring backend: a weighted
// early-warning aggregate over vital signs and sepsis-relevant labs. Each
// observed parameter contributes 0-3 points by band; the score is the
// earned fraction of the maximum possible over the parameters actually
// present, so partial snapshots still score without penalizing missing
// observations. Deterministic for identical snapshots.
type EarlyWarningScorer struct{}

// NewEarlyWarningScorer creates the rule-based backend.
func NewEarlyWarningScorer() *EarlyWarningScorer {
	return &EarlyWarningScorer{}
}

const maxBandPoints = 3.0

// Score implements Scorer. A snapshot with no observations at all scores
// zero: no data is no evidence of deterioration.
func (s *EarlyWarningScorer) Score(_ context.Context, _ string, snap clinical.VitalsSnapshot) (float64, error) {
	var earned, possible float64

	add := func(has bool, points float64) {
		if !has {
			return
		}
		earned += points
		possible += maxBandPoints
	}

	add(snap.HasTemperature, temperatureBand(snap.Temperature))
	add(snap.HasHeartRate, heartRateBand(snap.HeartRate))
	add(snap.HasRespiratoryRate, respiratoryBand(snap.RespiratoryRate))
	add(snap.HasSystolicBP, systolicBand(snap.SystolicBP))
	add(snap.HasWBC, wbcBand(snap.WBC))
	add(snap.HasLactate, lactateBand(snap.Lactate))

	if possible == 0 {
		return 0, nil
	}
	return earned / possible, nil
}

func temperatureBand(c float64) float64 {
	switch {
	case c >= 40.0 || c <= 35.0:
		return 3
	case c >= 39.0:
		return 2
	case c >= 38.0 || c <= 36.0:
		return 1
	default:
		return 0
	}
}

func heartRateBand(bpm float64) float64 {
	switch {
	case bpm >= 140 || bpm <= 40:
		return 3
	case bpm >= 120:
		return 2
	case bpm >= 100 || bpm <= 50:
		return 1
	default:
		return 0
	}
}

func respiratoryBand(rr float64) float64 {
	switch {
	case rr >= 30 || rr <= 8:
		return 3
	case rr >= 25:
		return 2
	case rr >= 22:
		return 1
	default:
		return 0
	}
}

func systolicBand(mmHg float64) float64 {
	switch {
	case mmHg <= 90:
		return 3
	case mmHg <= 100:
		return 2
	case mmHg <= 110:
		return 1
	default:
		return 0
	}
}

func wbcBand(k float64) float64 {
	switch {
	case k >= 20 || k < 2:
		return 3
	case k >= 15 || k < 4:
		return 2
	case k >= 12:
		return 1
	default:
		return 0
	}
}

func lactateBand(mmol float64) float64 {
	switch {
	case mmol >= 4.0:
		return 3
	case mmol >= 2.5:
		return 2
	case mmol >= 2.0:
		return 1
	default:
		return 0
	}
}
