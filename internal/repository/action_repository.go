package repository

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// ActionRepository reads the global action catalog.
type ActionRepository struct {
	db *database.DB
}

// NewActionRepository creates a new ActionRepository.
func NewActionRepository(db *database.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

// ListActions returns every catalog action.
func (r *ActionRepository) ListActions(ctx context.Context) ([]*Action, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name FROM approval_actions ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval actions")
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a := &Action{}
		if err := rows.Scan(&a.ID, &a.Code, &a.Name); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval action")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
