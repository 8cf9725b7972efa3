package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// maxHierarchyDepth bounds the job hierarchy walk against parent cycles.
const maxHierarchyDepth = 64

// DirectoryRepository reads the organization directory projection.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// EmployeeForUser returns the employee record of a user, or nil.
func (r *DirectoryRepository) EmployeeForUser(ctx context.Context, userID string) (*Employee, error) {
	query := `
		SELECT id, user_id, job_id, branch_id
		FROM directory_employees
		WHERE user_id = $1
		ORDER BY id
		LIMIT 1
	`

	e := &Employee{}
	err := r.db.QueryRow(ctx, query, userID).Scan(&e.ID, &e.UserID, &e.JobID, &e.BranchID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get employee")
	}
	return e, nil
}

// EmployeesByJob returns every employee holding a job.
func (r *DirectoryRepository) EmployeesByJob(ctx context.Context, jobID string) ([]*Employee, error) {
	query := `
		SELECT id, user_id, job_id, branch_id
		FROM directory_employees
		WHERE job_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list employees by job")
	}
	defer rows.Close()

	var out []*Employee
	for rows.Next() {
		e := &Employee{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &e.BranchID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan employee")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// JobHierarchy returns the employee's job followed by each ancestor job,
// leaf to root.
func (r *DirectoryRepository) JobHierarchy(ctx context.Context, employeeID string) ([]*Job, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT j.id, j.name, j.parent_id, 0 AS depth
			FROM directory_jobs j
			JOIN directory_employees e ON e.job_id = j.id
			WHERE e.id = $1
			UNION ALL
			SELECT p.id, p.name, p.parent_id, c.depth + 1
			FROM directory_jobs p
			JOIN chain c ON p.id = c.parent_id
			WHERE c.depth < $2
		)
		SELECT id, name, COALESCE(parent_id, '')
		FROM chain
		ORDER BY depth
	`

	rows, err := r.db.Query(ctx, query, employeeID, maxHierarchyDepth)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to walk job hierarchy")
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j := &Job{}
		if err := rows.Scan(&j.ID, &j.Name, &j.ParentID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// GroupMembership returns the group IDs a user belongs to.
func (r *DirectoryRepository) GroupMembership(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT group_id FROM directory_group_members WHERE user_id = $1 ORDER BY group_id`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get group membership")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan group")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RoleMembers returns the users holding a role group.
func (r *DirectoryRepository) RoleMembers(ctx context.Context, roleID string) ([]*User, error) {
	query := `
		SELECT u.id, u.name, u.default_branch_id
		FROM directory_users u
		JOIN directory_group_members m ON m.user_id = u.id
		WHERE m.group_id = $1
		ORDER BY u.id
	`

	rows, err := r.db.Query(ctx, query, roleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list role members")
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.DefaultBranchID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
