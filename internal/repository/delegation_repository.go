package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// DelegationRepository stores approval delegations.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

// CreateDelegation inserts a delegation.
func (r *DelegationRepository) CreateDelegation(ctx context.Context, d *Delegation) error {
	query := `
		INSERT INTO approval_delegations
		    (original_user_id, delegate_user_id, start_date, end_date, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		d.OriginalUserID,
		d.DelegateUserID,
		DateOf(d.StartDate),
		DateOf(d.EndDate),
		d.Active,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create delegation")
	}
	return nil
}

// DeactivateDelegation switches a delegation off. Rows are kept for audit.
func (r *DelegationRepository) DeactivateDelegation(ctx context.Context, id string) error {
	query := `
		UPDATE approval_delegations
		SET active = FALSE
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("delegation", id)
	}
	return err
}

// ListDelegations returns every delegation granted by a user.
func (r *DelegationRepository) ListDelegations(ctx context.Context, originalUserID string) ([]*Delegation, error) {
	query := `
		SELECT id, original_user_id, delegate_user_id, start_date, end_date, active, created_at
		FROM approval_delegations
		WHERE original_user_id = $1
		ORDER BY start_date DESC
	`

	rows, err := r.db.Query(ctx, query, originalUserID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list delegations")
	}
	defer rows.Close()

	var out []*Delegation
	for rows.Next() {
		d := &Delegation{}
		if err := rows.Scan(&d.ID, &d.OriginalUserID, &d.DelegateUserID,
			&d.StartDate, &d.EndDate, &d.Active, &d.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan delegation")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ActiveDelegatesFor returns the delegates of every listed user whose
// delegation covers asOf. Start and end dates are inclusive.
func (r *DelegationRepository) ActiveDelegatesFor(ctx context.Context, userIDs []string, asOf time.Time) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT delegate_user_id
		FROM approval_delegations
		WHERE active
		  AND original_user_id = ANY ($1)
		  AND start_date <= $2
		  AND end_date >= $2
		ORDER BY delegate_user_id
	`

	rows, err := r.db.Query(ctx, query, userIDs, DateOf(asOf))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve delegates")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan delegate")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
