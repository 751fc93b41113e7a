// Package clinical defines the core types shared by the safety validator
// and the continuous risk monitoring pipeline.
package clinical

import (
	"time"
)

// Severity is the tier assigned to a safety alert or allergy/interaction record.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeverityMajor    Severity = "major"
)

// AlertType classifies a safety alert produced by prescription validation.
type AlertType string

const (
	AlertAllergy         AlertType = "allergy"
	AlertInteraction     AlertType = "interaction"
	AlertRenalAdjustment AlertType = "renal_adjustment"
)

// MedicationOrder is a single drug order within a prescription. Order of
// entry in the prescription is significant: pairwise interaction checks
// enumerate pairs in input order.
type MedicationOrder struct {
	DrugID   string  `json:"drug_id"`
	DrugName string  `json:"drug_name,omitempty"`
	Dose     float64 `json:"dose"`
	DoseUnit string  `json:"dose_unit,omitempty"`
	Route    string  `json:"route,omitempty"`
	Days     int     `json:"days,omitempty"`
	PRN      bool    `json:"prn,omitempty"`
}

// AllergyRecord links a patient to a drug (or drug class) they are allergic to.
type AllergyRecord struct {
	PatientID string   `json:"patient_id"`
	Substance string   `json:"substance"`
	Severity  Severity `json:"severity"`
}

// InteractionRule describes a known adverse effect between an unordered pair
// of drugs. Lookup must be symmetric: (A,B) and (B,A) resolve identically.
type InteractionRule struct {
	DrugA          string   `json:"drug_a"`
	DrugB          string   `json:"drug_b"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// DrugInfo is the reference metadata the validator needs per drug.
type DrugInfo struct {
	DrugID                  string `json:"drug_id"`
	Name                    string `json:"name"`
	Class                   string `json:"class,omitempty"`
	RequiresRenalAdjustment bool   `json:"requires_renal_adjustment"`
}

// Patient is a read-only reference to the external patient registry.
type Patient struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
}

// AdmissionStatus is the lifecycle state of an admission.
type AdmissionStatus string

const (
	AdmissionActive     AdmissionStatus = "active"
	AdmissionDischarged AdmissionStatus = "discharged"
)

// Admission is a patient currently under monitoring. Owned by the external
// admission workflow; the monitor only reads it.
type Admission struct {
	ID         string          `json:"id"`
	PatientID  string          `json:"patient_id"`
	Ward       string          `json:"ward,omitempty"`
	Bed        string          `json:"bed,omitempty"`
	Status     AdmissionStatus `json:"status"`
	AdmittedAt time.Time       `json:"admitted_at"`
}

// VitalsSnapshot bundles the most recent vitals and lab observations for a
// patient at scoring time. Zero-valued fields with their Has flag unset mean
// the observation is not available; the scorer works with partial data.
type VitalsSnapshot struct {
	PatientID string    `json:"patient_id"`
	TakenAt   time.Time `json:"taken_at"`

	Temperature     float64 `json:"temperature,omitempty"`      // Celsius
	HeartRate       float64 `json:"heart_rate,omitempty"`       // bpm
	RespiratoryRate float64 `json:"respiratory_rate,omitempty"` // breaths/min
	SystolicBP      float64 `json:"systolic_bp,omitempty"`      // mmHg
	WBC             float64 `json:"wbc,omitempty"`              // 10^9/L
	Lactate         float64 `json:"lactate,omitempty"`          // mmol/L
	Creatinine      float64 `json:"creatinine,omitempty"`       // mg/dL

	HasTemperature     bool `json:"has_temperature,omitempty"`
	HasHeartRate       bool `json:"has_heart_rate,omitempty"`
	HasRespiratoryRate bool `json:"has_respiratory_rate,omitempty"`
	HasSystolicBP      bool `json:"has_systolic_bp,omitempty"`
	HasWBC             bool `json:"has_wbc,omitempty"`
	HasLactate         bool `json:"has_lactate,omitempty"`
	HasCreatinine      bool `json:"has_creatinine,omitempty"`
}

// SafetyAlert is one finding from prescription validation.
type SafetyAlert struct {
	Type           AlertType `json:"type"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	Recommendation string    `json:"recommendation,omitempty"`
}

// SafetyCheckResult is the aggregate outcome of validating a prescription.
// Alerts appear in deterministic order: allergy alerts in order-of-entry,
// then interaction alerts in pair-enumeration order, then renal alerts in
// order-of-entry.
type SafetyCheckResult struct {
	PatientID string        `json:"patient_id"`
	CheckedAt time.Time     `json:"checked_at"`
	Alerts    []SafetyAlert `json:"alerts"`
	IsSafe    bool          `json:"is_safe"`
}

// HasMajor reports whether any alert carries Major severity.
func (r *SafetyCheckResult) HasMajor() bool {
	for _, a := range r.Alerts {
		if a.Severity == SeverityMajor {
			return true
		}
	}
	return false
}
