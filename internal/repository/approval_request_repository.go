package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// RequestRepository persists approval requests. Every mutation runs through
// RunInTx so that the request row lock, the request write and its history
// entries commit together.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `
	id, flow_id, res_model, res_id, module_name, current_step_id, status,
	approvers, completed_step_ids, requested_by, requested_for_id, branch_id,
	remarks, cycle, approved_at, rejected_at, version, created_at, updated_at
`

// RunInTx runs fn inside one database transaction.
func (r *RequestRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx RequestTx) error) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgRequestTx{tx: tx})
	})
}

// GetRequest reads a request without locking it.
func (r *RequestRepository) GetRequest(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval request")
	}
	return req, nil
}

// ListPendingForUser returns pending requests whose approver set contains
// userID, oldest first.
func (r *RequestRepository) ListPendingForUser(ctx context.Context, userID string) ([]*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'pending' AND $1 = ANY (approvers)
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending requests")
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval request")
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// CountByStatus groups request counts by record model and status.
func (r *RequestRepository) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	query := `
		SELECT res_model, status, COUNT(*)
		FROM approval_requests
		GROUP BY res_model, status
		ORDER BY res_model, status
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count approval requests")
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.ResModel, &c.Status, &c.Count); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan status count")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ── unit of work ─────────────────────────────────────────────────────────────

type pgRequestTx struct {
	tx pgx.Tx
}

func (t *pgRequestTx) LockRequest(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`

	req, err := scanRequest(t.tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval request")
	}
	return req, nil
}

func (t *pgRequestTx) FindPendingByRecord(ctx context.Context, resModel, resID string) (*Request, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE res_model = $1 AND res_id = $2 AND status = 'pending'
		LIMIT 1
	`

	req, err := scanRequest(t.tx.QueryRow(ctx, query, resModel, resID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find pending request")
	}
	return req, nil
}

func (t *pgRequestTx) CreateRequest(ctx context.Context, req *Request) error {
	query := `
		INSERT INTO approval_requests
		    (flow_id, res_model, res_id, module_name, current_step_id, status,
		     approvers, completed_step_ids, requested_by, requested_for_id,
		     branch_id, remarks, cycle)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10,
		        $11, $12, $13)
		RETURNING id, version, created_at, updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		req.FlowID,
		req.ResModel,
		req.ResID,
		req.ModuleName,
		req.CurrentStepID,
		req.Status,
		nonNil(req.Approvers),
		nonNil(req.CompletedStepIDs),
		req.RequestedBy,
		req.RequestedForID,
		req.BranchID,
		req.Remarks,
		req.Cycle,
	).Scan(&req.ID, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval request")
	}
	return nil
}

func (t *pgRequestTx) SaveRequest(ctx context.Context, req *Request) error {
	query := `
		UPDATE approval_requests
		SET current_step_id    = $2,
		    status             = $3,
		    approvers          = $4,
		    completed_step_ids = $5,
		    requested_for_id   = $6,
		    remarks            = $7,
		    cycle              = $8,
		    approved_at        = $9,
		    rejected_at        = $10,
		    version            = version + 1,
		    updated_at         = NOW()
		WHERE id = $1 AND version = $11
		RETURNING version, updated_at
	`

	err := t.tx.QueryRow(ctx, query,
		req.ID,
		req.CurrentStepID,
		req.Status,
		nonNil(req.Approvers),
		nonNil(req.CompletedStepIDs),
		req.RequestedForID,
		req.Remarks,
		req.Cycle,
		req.ApprovedAt,
		req.RejectedAt,
		req.Version,
	).Scan(&req.Version, &req.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.Conflict("approval request %s was modified concurrently", req.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approval request")
	}
	return nil
}

func (t *pgRequestTx) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	return appendHistory(ctx, t.tx, entry)
}

func (t *pgRequestTx) CountVotes(ctx context.Context, requestID, stepID, actionID string, cycle int) (int, error) {
	return countVotes(ctx, t.tx, requestID, stepID, actionID, cycle)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanRequest(row rowScanner) (*Request, error) {
	req := &Request{}
	err := row.Scan(
		&req.ID,
		&req.FlowID,
		&req.ResModel,
		&req.ResID,
		&req.ModuleName,
		&req.CurrentStepID,
		&req.Status,
		&req.Approvers,
		&req.CompletedStepIDs,
		&req.RequestedBy,
		&req.RequestedForID,
		&req.BranchID,
		&req.Remarks,
		&req.Cycle,
		&req.ApprovedAt,
		&req.RejectedAt,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
