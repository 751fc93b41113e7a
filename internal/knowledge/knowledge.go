// Package knowledge defines read-only access to clinical reference data:
// allergy records, drug-drug interaction rules, drug metadata and recent
// lab values. Implementations are expected to return
// clinical.ErrDataUnavailable rather than silently returning defaults.
package knowledge

import (
	"context"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// Source is the read-only reference-data collaborator the safety validator
// depends on.
type Source interface {
	// Allergies returns the patient's known allergy records.
	Allergies(ctx context.Context, patientID string) ([]clinical.AllergyRecord, error)

	// Interaction looks up the rule for an unordered drug pair. The lookup
	// is symmetric; a nil rule with nil error means no known interaction.
	Interaction(ctx context.Context, drugA, drugB string) (*clinical.InteractionRule, error)

	// DrugInfo returns reference metadata for a drug.
	DrugInfo(ctx context.Context, drugID string) (*clinical.DrugInfo, error)

	// LatestCreatinine returns the most recent creatinine value for the
	// patient. ok is false when no lab result is on record; that is not an
	// error, only reduced coverage.
	LatestCreatinine(ctx context.Context, patientID string) (value float64, ok bool, err error)
}
