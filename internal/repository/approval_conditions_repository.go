package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

func insertConditions(ctx context.Context, tx pgx.Tx, step *Step) error {
	query := `
		INSERT INTO approval_conditions
		    (step_id, field, custom_field_path, aggregation,
		     operator, value, group_id, next_step_id, sequence)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8, $9)
		RETURNING id
	`

	for _, c := range step.Conditions {
		c.StepID = step.ID
		agg := c.Aggregation
		if agg == "" {
			agg = AggregationNone
		}
		err := tx.QueryRow(ctx, query,
			c.StepID,
			c.Field,
			c.CustomFieldPath,
			agg,
			c.Operator,
			c.Value,
			c.GroupID,
			c.NextStepID,
			c.Sequence,
		).Scan(&c.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval condition")
		}
	}
	return nil
}

// loadConditions attaches conditions to their steps in evaluation order.
func loadConditions(ctx context.Context, q database.Querier, flowID string, byID map[string]*Step) error {
	query := `
		SELECT c.id, c.step_id, c.field, c.custom_field_path, c.aggregation,
		       c.operator, c.value, c.group_id, c.next_step_id, c.sequence
		FROM approval_conditions c
		JOIN approval_steps s ON s.id = c.step_id
		WHERE s.flow_id = $1
		ORDER BY c.step_id, c.sequence, c.id
	`

	rows, err := q.Query(ctx, query, flowID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval conditions")
	}
	defer rows.Close()

	for rows.Next() {
		c := &Condition{}
		err := rows.Scan(
			&c.ID,
			&c.StepID,
			&c.Field,
			&c.CustomFieldPath,
			&c.Aggregation,
			&c.Operator,
			&c.Value,
			&c.GroupID,
			&c.NextStepID,
			&c.Sequence,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval condition")
		}
		if s := byID[c.StepID]; s != nil {
			s.Conditions = append(s.Conditions, c)
		}
	}
	return rows.Err()
}
