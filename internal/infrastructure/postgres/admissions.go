package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// AdmissionRepository reads the admission census maintained by the
// external admission workflow. It implements monitor.AdmissionSource; the
// scheduler never writes to this table.
type AdmissionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAdmissionRepository creates an admission repository.
func NewAdmissionRepository(pool *pgxpool.Pool, logger *zap.Logger) *AdmissionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionRepository{pool: pool, logger: logger}
}

// ListActiveAdmissions returns the patients currently under monitoring.
func (r *AdmissionRepository) ListActiveAdmissions(ctx context.Context) ([]clinical.Admission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT admission_id, patient_id, COALESCE(ward, ''), COALESCE(bed, ''), status, admitted_at
		FROM admissions
		WHERE status = $1
		ORDER BY admitted_at
	`, clinical.AdmissionActive)
	if err != nil {
		return nil, fmt.Errorf("query active admissions: %w", err)
	}
	defer rows.Close()

	var admissions []clinical.Admission
	for rows.Next() {
		var a clinical.Admission
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Ward, &a.Bed, &a.Status, &a.AdmittedAt); err != nil {
			return nil, fmt.Errorf("scan admission: %w", err)
		}
		admissions = append(admissions, a)
	}
	return admissions, rows.Err()
}
