package monitor

import (
	"time"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// shouldNotify applies the escalation/dedup policy.
//
// An alert is emitted iff the new level is strictly higher than the stored
// level, or the stored alert is at least RepeatInterval old for levels >=
// High. High/Critical states repeat-notify even without escalation to guard
// against a missed acknowledgement; Low/Moderate never repeat. A patient
// with no stored state has level none, so their first assessment at any
// level notifies once.
func shouldNotify(prev *clinical.AlertState, level clinical.RiskLevel, now time.Time, repeatInterval time.Duration) (notify, repeat bool) {
	if prev == nil {
		return true, false
	}
	if level > prev.Level {
		return true, false
	}
	if level >= clinical.LevelHigh && now.Sub(prev.UpdatedAt) >= repeatInterval {
		return true, true
	}
	return false, false
}
