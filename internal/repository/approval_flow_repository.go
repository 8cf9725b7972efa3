package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// FlowRepository stores flow definitions. A flow and its whole step graph are
// always written together in a single transaction.
type FlowRepository struct {
	db *database.DB
}

// NewFlowRepository creates a new FlowRepository.
func NewFlowRepository(db *database.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

// SaveFlow inserts a flow with its steps, step actions and conditions. Step
// IDs supplied by the caller are kept so that intra-flow references resolve.
func (r *FlowRepository) SaveFlow(ctx context.Context, flow *Flow) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO approval_flows
			    (name, request_type, res_model, company_id, active, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`
		if flow.ID != "" {
			query = `
				INSERT INTO approval_flows
				    (id, name, request_type, res_model, company_id, active, created_by)
				VALUES ($7, $1, $2, $3, $4, $5, $6)
				RETURNING id, created_at, updated_at
			`
		}

		args := []any{flow.Name, flow.RequestType, flow.ResModel, flow.CompanyID, flow.Active, flow.CreatedBy}
		if flow.ID != "" {
			args = append(args, flow.ID)
		}
		if err := tx.QueryRow(ctx, query, args...).Scan(&flow.ID, &flow.CreatedAt, &flow.UpdatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval flow")
		}

		for _, step := range flow.Steps {
			step.FlowID = flow.ID
			if err := insertStep(ctx, tx, step); err != nil {
				return err
			}
		}
		for _, step := range flow.Steps {
			if err := insertStepActions(ctx, tx, step); err != nil {
				return err
			}
			if err := insertConditions(ctx, tx, step); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFlow loads a flow with its full step graph.
func (r *FlowRepository) GetFlow(ctx context.Context, id string) (*Flow, error) {
	query := `
		SELECT id, name, request_type, res_model, company_id, active,
		       created_by, created_at, updated_at
		FROM approval_flows
		WHERE id = $1
	`

	flow, err := r.scanFlow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_flow", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval flow")
	}

	if flow.Steps, err = loadSteps(ctx, r.db, flow.ID); err != nil {
		return nil, err
	}
	return flow, nil
}

// ListFlows returns the active flows bound to a record model, or every active
// flow when resModel is empty. Steps are not loaded.
func (r *FlowRepository) ListFlows(ctx context.Context, resModel string) ([]*Flow, error) {
	query := `
		SELECT id, name, request_type, res_model, company_id, active,
		       created_by, created_at, updated_at
		FROM approval_flows
		WHERE active AND ($1 = '' OR res_model = $1)
		ORDER BY name
	`

	rows, err := r.db.Query(ctx, query, resModel)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval flows")
	}
	defer rows.Close()

	var flows []*Flow
	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval flow")
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// SetActive archives or restores a flow. Archived flows accept no new
// requests; requests already in flight continue.
func (r *FlowRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `
		UPDATE approval_flows
		SET active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, active).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_flow", id)
	}
	return err
}

// ── scan helper ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *FlowRepository) scanFlow(row rowScanner) (*Flow, error) {
	f := &Flow{}
	err := row.Scan(
		&f.ID,
		&f.Name,
		&f.RequestType,
		&f.ResModel,
		&f.CompanyID,
		&f.Active,
		&f.CreatedBy,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}
