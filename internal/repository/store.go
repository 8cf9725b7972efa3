package repository

import "context"

// RequestTx is the unit of work a request mutation runs in. Reads through
// LockRequest hold the request exclusively until the work commits or rolls
// back.
type RequestTx interface {
	// LockRequest loads a request and serializes later writers behind it.
	LockRequest(ctx context.Context, id string) (*Request, error)
	// FindPendingByRecord returns the pending request for a record, or nil.
	FindPendingByRecord(ctx context.Context, resModel, resID string) (*Request, error)
	// CreateRequest inserts a request and fills its ID and timestamps.
	CreateRequest(ctx context.Context, req *Request) error
	// SaveRequest writes the mutable request fields and bumps Version.
	SaveRequest(ctx context.Context, req *Request) error
	// AppendHistory records one transition. History is never updated.
	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	// CountVotes counts history entries for a step and action in one cycle.
	CountVotes(ctx context.Context, requestID, stepID, actionID string, cycle int) (int, error)
}
