package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/carewatch/go-cds/internal/domain/clinical"
)

// HistoryRepository persists resolved dispatch records. It implements
// dispatch.History. Records are immutable once written.
type HistoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewHistoryRepository creates a history repository.
func NewHistoryRepository(pool *pgxpool.Pool, logger *zap.Logger) *HistoryRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryRepository{pool: pool, logger: logger}
}

// Record implements dispatch.History. Channel results are stored as JSON:
// the channel set is open-ended and the record is read back whole, never
// queried per channel.
func (r *HistoryRepository) Record(ctx context.Context, record clinical.DispatchRecord) error {
	channels, err := json.Marshal(record.Channels)
	if err != nil {
		return fmt.Errorf("encode channel results: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO dispatch_records
			(dispatch_id, alert_id, patient_id, level, prev_level, score, repeat_notify, status, channels, dispatched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		record.ID,
		record.Alert.ID,
		record.Alert.PatientID,
		record.Alert.Level.String(),
		record.Alert.PrevLevel.String(),
		record.Alert.Score,
		record.Alert.Repeat,
		record.Status,
		channels,
		record.DispatchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch record: %w", err)
	}
	return nil
}

// ListByPatient implements dispatch.History, oldest first.
func (r *HistoryRepository) ListByPatient(ctx context.Context, patientID string) ([]clinical.DispatchRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dispatch_id, alert_id, patient_id, level, prev_level, score, repeat_notify, status, channels, dispatched_at
		FROM dispatch_records
		WHERE patient_id = $1
		ORDER BY dispatched_at
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query dispatch records: %w", err)
	}
	defer rows.Close()

	records := []clinical.DispatchRecord{}
	for rows.Next() {
		var (
			record   clinical.DispatchRecord
			level    string
			prev     string
			channels []byte
		)
		err := rows.Scan(
			&record.ID,
			&record.Alert.ID,
			&record.Alert.PatientID,
			&level,
			&prev,
			&record.Alert.Score,
			&record.Alert.Repeat,
			&record.Status,
			&channels,
			&record.DispatchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch record: %w", err)
		}
		record.Alert.Level = clinical.ParseRiskLevel(level)
		record.Alert.PrevLevel = clinical.ParseRiskLevel(prev)
		record.Alert.RaisedAt = record.DispatchedAt
		if err := json.Unmarshal(channels, &record.Channels); err != nil {
			return nil, fmt.Errorf("decode channel results: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
