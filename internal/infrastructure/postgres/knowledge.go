// Package postgres provides the durable adapters for the decision support
// core: clinical reference data, the admission census and dispatch history.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// KnowledgeRepository serves reference data from the clinical knowledge
// schema. It implements knowledge.Source.
type KnowledgeRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewKnowledgeRepository creates a knowledge repository.
func NewKnowledgeRepository(pool *pgxpool.Pool, logger *zap.Logger) *KnowledgeRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeRepository{pool: pool, logger: logger}
}

// Allergies returns a patient's allergy records. A patient unknown to the
// registry reports ErrDataUnavailable: an absent allergy history is not
// the same as a confirmed empty one.
func (r *KnowledgeRepository) Allergies(ctx context.Context, patientID string) ([]clinical.AllergyRecord, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE patient_id = $1 AND allergies_reviewed)`,
		patientID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check patient %s: %w", patientID, err)
	}
	if !exists {
		return nil, fmt.Errorf("allergy set for patient %s: %w", patientID, clinical.ErrDataUnavailable)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT patient_id, substance, severity
		FROM patient_allergies
		WHERE patient_id = $1
		ORDER BY substance
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query allergies: %w", err)
	}
	defer rows.Close()

	records := []clinical.AllergyRecord{}
	for rows.Next() {
		var rec clinical.AllergyRecord
		if err := rows.Scan(&rec.PatientID, &rec.Substance, &rec.Severity); err != nil {
			return nil, fmt.Errorf("scan allergy: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Interaction looks up a rule for an unordered drug pair. The symmetric
// match is done in SQL so storage order of the pair does not matter.
func (r *KnowledgeRepository) Interaction(ctx context.Context, drugA, drugB string) (*clinical.InteractionRule, error) {
	var rule clinical.InteractionRule
	err := r.pool.QueryRow(ctx, `
		SELECT drug_a, drug_b, severity, description, recommendation
		FROM drug_interactions
		WHERE (LOWER(drug_a) = LOWER($1) AND LOWER(drug_b) = LOWER($2))
		   OR (LOWER(drug_a) = LOWER($2) AND LOWER(drug_b) = LOWER($1))
	`, drugA, drugB).Scan(&rule.DrugA, &rule.DrugB, &rule.Severity, &rule.Description, &rule.Recommendation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query interaction %s/%s: %w", drugA, drugB, err)
	}
	return &rule, nil
}

// DrugInfo returns reference metadata for a drug.
func (r *KnowledgeRepository) DrugInfo(ctx context.Context, drugID string) (*clinical.DrugInfo, error) {
	var info clinical.DrugInfo
	err := r.pool.QueryRow(ctx, `
		SELECT drug_id, name, COALESCE(drug_class, ''), requires_renal_adjustment
		FROM drug_catalog
		WHERE LOWER(drug_id) = LOWER($1)
	`, drugID).Scan(&info.DrugID, &info.Name, &info.Class, &info.RequiresRenalAdjustment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("drug metadata for %s: %w", drugID, clinical.ErrDataUnavailable)
		}
		return nil, fmt.Errorf("query drug %s: %w", drugID, err)
	}
	return &info, nil
}

// LatestCreatinine returns the most recent creatinine lab result.
func (r *KnowledgeRepository) LatestCreatinine(ctx context.Context, patientID string) (float64, bool, error) {
	var value float64
	err := r.pool.QueryRow(ctx, `
		SELECT value
		FROM lab_results
		WHERE patient_id = $1 AND test_code = 'creatinine'
		ORDER BY observed_at DESC
		LIMIT 1
	`, patientID).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("query creatinine for %s: %w", patientID, err)
	}
	return value, true, nil
}
