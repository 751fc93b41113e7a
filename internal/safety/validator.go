// Package safety implements prescription safety validation: allergy checks,
// pairwise drug-drug interaction checks and renal dosing adjustments against
// a knowledge source. Validation is synchronous, deterministic and free of
// side effects.
package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/domain/clinical"
	"github.com/carewatch/go-cds/internal/knowledge"
)

// DefaultCreatinineThreshold is the creatinine level (mg/dL) above which
// renally-cleared drugs get a dose-adjustment alert.
const DefaultCreatinineThreshold = 1.5

// Config holds validator policy.
type Config struct {
	// CreatinineThreshold triggers renal adjustment alerts when exceeded.
	CreatinineThreshold float64
}

// DefaultConfig returns the standard validation policy.
func DefaultConfig() Config {
	return Config{CreatinineThreshold: DefaultCreatinineThreshold}
}

// Validator checks proposed medication orders against reference knowledge.
type Validator struct {
	source knowledge.Source
	config Config
	logger *zap.Logger
}

// NewValidator creates a validator over the given knowledge source.
func NewValidator(source knowledge.Source, cfg Config, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CreatinineThreshold <= 0 {
		cfg.CreatinineThreshold = DefaultCreatinineThreshold
	}
	return &Validator{source: source, config: cfg, logger: logger}
}

// Validate runs the full safety check for a prescription. Finding an
// interaction is a result, not an error: the call fails only on malformed
// input or when required reference data cannot be resolved.
//
// Alerts are emitted in a fixed order so identical input always yields an
// identical result: allergy alerts in order-of-entry, interaction alerts in
// pair-enumeration order (i < j), renal alerts in order-of-entry.
func (v *Validator) Validate(ctx context.Context, patientID string, orders []clinical.MedicationOrder) (*clinical.SafetyCheckResult, error) {
	if err := validateInput(patientID, orders); err != nil {
		return nil, err
	}

	allergies, err := v.source.Allergies(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("resolve allergies: %w", err)
	}

	// Resolve drug metadata up front: a drug the knowledge base does not
	// know cannot be checked at all.
	drugs := make([]*clinical.DrugInfo, len(orders))
	for i, order := range orders {
		info, err := v.source.DrugInfo(ctx, order.DrugID)
		if err != nil {
			return nil, fmt.Errorf("resolve drug %s: %w", order.DrugID, err)
		}
		drugs[i] = info
	}

	var alerts []clinical.SafetyAlert
	alerts = append(alerts, allergyAlerts(orders, drugs, allergies)...)

	interactions, err := v.interactionAlerts(ctx, orders, drugs)
	if err != nil {
		return nil, err
	}
	alerts = append(alerts, interactions...)

	renal, err := v.renalAlerts(ctx, patientID, drugs)
	if err != nil {
		return nil, err
	}
	alerts = append(alerts, renal...)

	result := &clinical.SafetyCheckResult{
		PatientID: patientID,
		CheckedAt: time.Now().UTC(),
		Alerts:    alerts,
	}
	result.IsSafe = !result.HasMajor()

	v.logger.Debug("prescription validated",
		zap.String("patient_id", patientID),
		zap.Int("orders", len(orders)),
		zap.Int("alerts", len(alerts)),
		zap.Bool("is_safe", result.IsSafe))

	return result, nil
}

func validateInput(patientID string, orders []clinical.MedicationOrder) error {
	if strings.TrimSpace(patientID) == "" {
		return clinical.NewValidationError("patient_id", "must not be empty")
	}
	if len(orders) == 0 {
		return clinical.NewValidationError("orders", "at least one medication order is required")
	}
	for i, order := range orders {
		if strings.TrimSpace(order.DrugID) == "" {
			return clinical.NewValidationError(fmt.Sprintf("orders[%d].drug_id", i), "must not be empty")
		}
		if order.Dose < 0 {
			return clinical.NewValidationError(fmt.Sprintf("orders[%d].dose", i), "must not be negative")
		}
	}
	return nil
}

// allergyAlerts emits one alert per order whose drug name, id or class
// appears in the patient's allergy set, with severity copied from the
// allergy record.
func allergyAlerts(orders []clinical.MedicationOrder, drugs []*clinical.DrugInfo, allergies []clinical.AllergyRecord) []clinical.SafetyAlert {
	if len(allergies) == 0 {
		return nil
	}

	bySubstance := make(map[string]clinical.AllergyRecord, len(allergies))
	for _, rec := range allergies {
		bySubstance[strings.ToLower(rec.Substance)] = rec
	}

	var alerts []clinical.SafetyAlert
	for i, order := range orders {
		info := drugs[i]
		rec, found := bySubstance[strings.ToLower(info.Name)]
		if !found {
			rec, found = bySubstance[strings.ToLower(order.DrugID)]
		}
		if !found && info.Class != "" {
			rec, found = bySubstance[strings.ToLower(info.Class)]
		}
		if !found {
			continue
		}
		alerts = append(alerts, clinical.SafetyAlert{
			Type:           clinical.AlertAllergy,
			Severity:       rec.Severity,
			Message:        fmt.Sprintf("patient is allergic to %s (ordered: %s)", rec.Substance, info.Name),
			Recommendation: "do not administer; select an alternative agent",
		})
	}
	return alerts
}

// interactionAlerts checks every unordered pair of distinct orders exactly
// once, in input order. A drug is never compared against itself.
func (v *Validator) interactionAlerts(ctx context.Context, orders []clinical.MedicationOrder, drugs []*clinical.DrugInfo) ([]clinical.SafetyAlert, error) {
	var alerts []clinical.SafetyAlert
	for i := 0; i < len(orders); i++ {
		for j := i + 1; j < len(orders); j++ {
			if strings.EqualFold(orders[i].DrugID, orders[j].DrugID) {
				continue
			}
			rule, err := v.source.Interaction(ctx, orders[i].DrugID, orders[j].DrugID)
			if err != nil {
				return nil, fmt.Errorf("interaction lookup %s/%s: %w", orders[i].DrugID, orders[j].DrugID, err)
			}
			if rule == nil {
				continue
			}
			alerts = append(alerts, clinical.SafetyAlert{
				Type:     clinical.AlertInteraction,
				Severity: rule.Severity,
				Message: fmt.Sprintf("%s interacts with %s: %s",
					drugs[i].Name, drugs[j].Name, rule.Description),
				Recommendation: rule.Recommendation,
			})
		}
	}
	return alerts, nil
}

// renalAlerts flags renally-cleared drugs when the latest creatinine exceeds
// the threshold. A patient with no creatinine on record skips the check
// silently: missing lab data reduces coverage, it does not fail validation.
func (v *Validator) renalAlerts(ctx context.Context, patientID string, drugs []*clinical.DrugInfo) ([]clinical.SafetyAlert, error) {
	value, ok, err := v.source.LatestCreatinine(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("resolve creatinine: %w", err)
	}
	if !ok || value <= v.config.CreatinineThreshold {
		return nil, nil
	}

	var alerts []clinical.SafetyAlert
	for _, info := range drugs {
		if !info.RequiresRenalAdjustment {
			continue
		}
		alerts = append(alerts, clinical.SafetyAlert{
			Type:     clinical.AlertRenalAdjustment,
			Severity: clinical.SeverityModerate,
			Message: fmt.Sprintf("%s requires renal dose adjustment (creatinine %.2f mg/dL above %.2f)",
				info.Name, value, v.config.CreatinineThreshold),
			Recommendation: "reduce dose or extend dosing interval per renal dosing guidance",
		})
	}
	return alerts, nil
}
