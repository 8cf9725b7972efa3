package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// TargetRecordRepository serves snapshots of the business records requests
// are bound to. Host modules upsert a snapshot whenever the record changes.
type TargetRecordRepository struct {
	db *database.DB
}

// NewTargetRecordRepository creates a new TargetRecordRepository.
func NewTargetRecordRepository(db *database.DB) *TargetRecordRepository {
	return &TargetRecordRepository{db: db}
}

// GetRecord returns the record snapshot, or nil when none exists.
func (r *TargetRecordRepository) GetRecord(ctx context.Context, model, id string) (*TargetRecord, error) {
	query := `
		SELECT fields, last_modified_by
		FROM approval_target_records
		WHERE res_model = $1 AND res_id = $2
	`

	rec := &TargetRecord{Model: model, ID: id}
	var fieldsJSON []byte
	err := r.db.QueryRow(ctx, query, model, id).Scan(&fieldsJSON, &rec.LastModifiedBy)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get target record")
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode target record")
	}
	return rec, nil
}

// UpsertRecord stores the latest snapshot of a record.
func (r *TargetRecordRepository) UpsertRecord(ctx context.Context, rec *TargetRecord) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode target record")
	}

	query := `
		INSERT INTO approval_target_records (res_model, res_id, fields, last_modified_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (res_model, res_id) DO UPDATE
		SET fields = EXCLUDED.fields,
		    last_modified_by = EXCLUDED.last_modified_by,
		    updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, rec.Model, rec.ID, fieldsJSON, rec.LastModifiedBy); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to upsert target record")
	}
	return nil
}
