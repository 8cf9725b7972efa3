package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// RecordStore reads and writes target record snapshots.
type RecordStore interface {
	RecordSource
	UpsertRecord(ctx context.Context, rec *repository.TargetRecord) error
}

// RecordService keeps the snapshots of the business records that conditions
// are evaluated against. Owning modules push a snapshot whenever a record
// changes.
type RecordService struct {
	records RecordStore
	log     *logger.Logger
}

// NewRecordService creates a new record service
func NewRecordService(records RecordStore, log *logger.Logger) *RecordService {
	if log == nil {
		log = logger.Nop()
	}
	return &RecordService{records: records, log: log}
}

// UpsertRecordRequest represents a record snapshot push
type UpsertRecordRequest struct {
	Model          string                 `json:"model"`
	ID             string                 `json:"id"`
	Fields         map[string]interface{} `json:"fields"`
	LastModifiedBy string                 `json:"last_modified_by"`
}

// Upsert stores the latest snapshot of a record.
func (s *RecordService) Upsert(ctx context.Context, req *UpsertRecordRequest) (*repository.TargetRecord, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return nil, errors.InvalidInput("model", "record model is required")
	}
	if strings.ContainsAny(model, " /") {
		return nil, errors.InvalidInput("model", "record model must be a dotted name such as purchase.order")
	}
	if req.ID == "" {
		return nil, errors.InvalidInput("id", "record id is required")
	}
	if req.Fields == nil {
		req.Fields = map[string]interface{}{}
	}

	rec := &repository.TargetRecord{
		Model:          model,
		ID:             req.ID,
		Fields:         req.Fields,
		LastModifiedBy: req.LastModifiedBy,
	}
	if err := s.records.UpsertRecord(ctx, rec); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to store record snapshot")
	}

	s.log.Debug().
		Str("model", rec.Model).
		Str("record_id", rec.ID).
		Int("fields", len(rec.Fields)).
		Msg("Record snapshot stored")
	return rec, nil
}

// Get returns a record snapshot.
func (s *RecordService) Get(ctx context.Context, model, id string) (*repository.TargetRecord, error) {
	if model == "" || id == "" {
		return nil, errors.InvalidInput("id", "record model and id are required")
	}
	rec, err := s.records.GetRecord(ctx, model, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read record snapshot")
	}
	if rec == nil {
		return nil, errors.NotFound(model, id)
	}
	return rec, nil
}
