package clinical

import "time"

// RiskLevel is the discretized bucket derived from a continuous risk score.
// The ordering of the numeric values is load-bearing: escalation decisions
// compare levels with >.
type RiskLevel int

const (
	// LevelNone is the stored level for a patient who has never been alerted.
	LevelNone RiskLevel = iota
	LevelLow
	LevelModerate
	LevelHigh
	LevelCritical
)

// String returns the lowercase level name.
func (l RiskLevel) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelModerate:
		return "moderate"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "none"
	}
}

// ParseRiskLevel maps a stored level name back to a RiskLevel. Unknown
// values map to LevelNone.
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "low":
		return LevelLow
	case "moderate":
		return LevelModerate
	case "high":
		return LevelHigh
	case "critical":
		return LevelCritical
	default:
		return LevelNone
	}
}

// RiskAssessment is one scoring outcome for one patient.
type RiskAssessment struct {
	PatientID string    `json:"patient_id"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"` // in [0,1]
	Level     RiskLevel `json:"level"`
}

// AlertState is the per-patient record of the last emitted risk alert.
// Mutated only by the monitor scheduler after a dispatch decision.
type AlertState struct {
	PatientID string    `json:"patient_id"`
	Level     RiskLevel `json:"level"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RiskAlert is the payload handed to the dispatcher when the scheduler
// decides a patient's risk warrants notification.
type RiskAlert struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	Level      RiskLevel `json:"level"`
	PrevLevel  RiskLevel `json:"prev_level"`
	Score      float64   `json:"score"`
	Repeat     bool      `json:"repeat"` // repeat-notify without escalation
	RaisedAt   time.Time `json:"raised_at"`
	Ward       string    `json:"ward,omitempty"`
	Bed        string    `json:"bed,omitempty"`
	Annotation string    `json:"annotation,omitempty"`
}

// ChannelOutcome is the final result of delivery attempts on one channel.
type ChannelOutcome string

const (
	OutcomeDelivered ChannelOutcome = "delivered"
	OutcomeFailed    ChannelOutcome = "failed"
)

// ChannelResult tracks delivery attempts for a single channel.
type ChannelResult struct {
	Channel  string         `json:"channel"`
	Outcome  ChannelOutcome `json:"outcome"`
	Attempts int            `json:"attempts"`
	Error    string         `json:"error,omitempty"`
}

// DispatchStatus is the overall resolution of a dispatch.
type DispatchStatus string

const (
	// DispatchDelivered means at least one channel accepted the alert.
	DispatchDelivered DispatchStatus = "delivered"
	// DispatchDegraded means every channel exhausted its retries; the alert
	// was surfaced to the fallback sink for manual follow-up.
	DispatchDegraded DispatchStatus = "degraded"
)

// DispatchRecord captures one alert fan-out. Immutable once the overall
// status is resolved.
type DispatchRecord struct {
	ID           string          `json:"id"`
	Alert        RiskAlert       `json:"alert"`
	Channels     []ChannelResult `json:"channels"`
	Status       DispatchStatus  `json:"status"`
	DispatchedAt time.Time       `json:"dispatched_at"`
}
