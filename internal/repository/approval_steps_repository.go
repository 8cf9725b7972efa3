package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// Steps, step actions and conditions have no repository of their own: they
// are only ever written and read as part of their flow.

func insertStep(ctx context.Context, tx pgx.Tx, step *Step) error {
	query := `
		INSERT INTO approval_steps
		    (id, flow_id, name, sequence, role_id,
		     committee_approval, required_approval_percent,
		     is_organization, is_employee_step, is_initiator, is_final, is_condition,
		     cross_branch, branch_id, fallback_branch_id, next_step_ids)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7,
		        $8, $9, $10, $11, $12,
		        $13, $14, $15, $16)
	`

	nextIDs := step.NextStepIDs
	if nextIDs == nil {
		nextIDs = []string{}
	}
	_, err := tx.Exec(ctx, query,
		step.ID,
		step.FlowID,
		step.Name,
		step.Sequence,
		step.RoleID,
		step.CommitteeApproval,
		step.RequiredApprovalPercent,
		step.IsOrganization,
		step.IsEmployeeStep,
		step.IsInitiator,
		step.IsFinal,
		step.IsCondition,
		step.CrossBranch,
		step.BranchID,
		step.FallbackBranchID,
		nextIDs,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
	}
	return nil
}

func insertStepActions(ctx context.Context, tx pgx.Tx, step *Step) error {
	query := `
		INSERT INTO approval_step_actions (step_id, position, action_code, next_step_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	for i := range step.Actions {
		a := &step.Actions[i]
		if err := tx.QueryRow(ctx, query, step.ID, i, a.ActionCode, a.NextStepID).Scan(&a.ID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create step action")
		}
	}
	return nil
}

// loadSteps reads every step of a flow together with its actions and
// conditions, ordered by sequence.
func loadSteps(ctx context.Context, q database.Querier, flowID string) ([]*Step, error) {
	query := `
		SELECT id, flow_id, name, sequence, role_id,
		       committee_approval, required_approval_percent,
		       is_organization, is_employee_step, is_initiator, is_final, is_condition,
		       cross_branch, branch_id, fallback_branch_id, next_step_ids
		FROM approval_steps
		WHERE flow_id = $1
		ORDER BY sequence, id
	`

	rows, err := q.Query(ctx, query, flowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval steps")
	}
	defer rows.Close()

	var steps []*Step
	byID := make(map[string]*Step)
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval steps")
	}
	rows.Close()

	if err := loadStepActions(ctx, q, flowID, byID); err != nil {
		return nil, err
	}
	if err := loadConditions(ctx, q, flowID, byID); err != nil {
		return nil, err
	}
	return steps, nil
}

func loadStepActions(ctx context.Context, q database.Querier, flowID string, byID map[string]*Step) error {
	query := `
		SELECT a.id, a.step_id, a.action_code, a.next_step_id
		FROM approval_step_actions a
		JOIN approval_steps s ON s.id = a.step_id
		WHERE s.flow_id = $1
		ORDER BY a.step_id, a.position
	`

	rows, err := q.Query(ctx, query, flowID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load step actions")
	}
	defer rows.Close()

	for rows.Next() {
		var a StepAction
		var stepID string
		if err := rows.Scan(&a.ID, &stepID, &a.ActionCode, &a.NextStepID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan step action")
		}
		if s := byID[stepID]; s != nil {
			s.Actions = append(s.Actions, a)
		}
	}
	return rows.Err()
}

// ── scan helper ──────────────────────────────────────────────────────────────

func scanStep(row rowScanner) (*Step, error) {
	s := &Step{}
	err := row.Scan(
		&s.ID,
		&s.FlowID,
		&s.Name,
		&s.Sequence,
		&s.RoleID,
		&s.CommitteeApproval,
		&s.RequiredApprovalPercent,
		&s.IsOrganization,
		&s.IsEmployeeStep,
		&s.IsInitiator,
		&s.IsFinal,
		&s.IsCondition,
		&s.CrossBranch,
		&s.BranchID,
		&s.FallbackBranchID,
		&s.NextStepIDs,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
	}
	return s, nil
}
