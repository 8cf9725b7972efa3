package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/common/database"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// HistoryRepository reads the immutable approval history. Writes go through
// a RequestTx so they commit with the transition they record.
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ListHistory returns the full trail for a request ordered oldest-first.
func (r *HistoryRepository) ListHistory(ctx context.Context, requestID string) ([]*HistoryEntry, error) {
	query := `
		SELECT id, request_id, step_id, action_id, action_code,
		       user_id, comment, cycle, created_at
		FROM approval_history
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval history")
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

// appendHistory inserts one entry. The table carries an update/delete
// prevention trigger so this is the only mutation exposed.
func appendHistory(ctx context.Context, q database.Querier, entry *HistoryEntry) error {
	query := `
		INSERT INTO approval_history
		    (request_id, step_id, action_id, action_code,
		     user_id, comment, cycle)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7)
		RETURNING id, created_at
	`

	err := q.QueryRow(ctx, query,
		entry.RequestID,
		entry.StepID,
		entry.ActionID,
		entry.ActionCode,
		entry.UserID,
		entry.Comment,
		entry.Cycle,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval history")
	}
	return nil
}

func countVotes(ctx context.Context, q database.Querier, requestID, stepID, actionID string, cycle int) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM approval_history
		WHERE request_id = $1 AND step_id = $2 AND action_id = $3 AND cycle = $4
	`

	var n int
	if err := q.QueryRow(ctx, query, requestID, stepID, actionID, cycle).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count votes")
	}
	return n, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanHistoryRows(rows pgx.Rows) ([]*HistoryEntry, error) {
	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		err := rows.Scan(
			&e.ID,
			&e.RequestID,
			&e.StepID,
			&e.ActionID,
			&e.ActionCode,
			&e.UserID,
			&e.Comment,
			&e.Cycle,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan history entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
