package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// FlowStore loads and registers flow definitions. Flows are immutable once
// registered.
type FlowStore interface {
	GetFlow(ctx context.Context, id string) (*repository.Flow, error)
	ListFlows(ctx context.Context, resModel string) ([]*repository.Flow, error)
	SaveFlow(ctx context.Context, flow *repository.Flow) error
	SetActive(ctx context.Context, id string, active bool) error
}

// RequestStore persists requests and their history. Mutations go through
// RunInTx; the remaining methods are unlocked reads.
type RequestStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.RequestTx) error) error
	GetRequest(ctx context.Context, id string) (*repository.Request, error)
	ListPendingForUser(ctx context.Context, userID string) ([]*repository.Request, error)
	CountByStatus(ctx context.Context) ([]repository.StatusCount, error)
}

// HistoryReader reads the approval history ledger.
type HistoryReader interface {
	ListHistory(ctx context.Context, requestID string) ([]*repository.HistoryEntry, error)
}

// Directory is the read-only organization directory.
type Directory interface {
	// EmployeeForUser returns the user's employee record, or nil.
	EmployeeForUser(ctx context.Context, userID string) (*repository.Employee, error)
	EmployeesByJob(ctx context.Context, jobID string) ([]*repository.Employee, error)
	// JobHierarchy returns jobs from the employee's own job up to the root.
	JobHierarchy(ctx context.Context, employeeID string) ([]*repository.Job, error)
	GroupMembership(ctx context.Context, userID string) ([]string, error)
	RoleMembers(ctx context.Context, roleID string) ([]*repository.User, error)
}

// DelegationStore resolves and manages delegations.
type DelegationStore interface {
	// ActiveDelegatesFor returns the delegates of the listed users whose
	// delegation covers asOf.
	ActiveDelegatesFor(ctx context.Context, userIDs []string, asOf time.Time) ([]string, error)
	CreateDelegation(ctx context.Context, d *repository.Delegation) error
	DeactivateDelegation(ctx context.Context, id string) error
	ListDelegations(ctx context.Context, originalUserID string) ([]*repository.Delegation, error)
}

// RecordSource reads the business record a request is bound to.
type RecordSource interface {
	// GetRecord returns the record, or nil when it does not exist.
	GetRecord(ctx context.Context, model, id string) (*repository.TargetRecord, error)
}

// ActionSource lists the global action catalog.
type ActionSource interface {
	ListActions(ctx context.Context) ([]*repository.Action, error)
}

// Notifier tells users that a request awaits their decision. Delivery is
// best effort; a failure never rolls back a transition.
type Notifier interface {
	NotifyApprover(ctx context.Context, requestID, userID, message string) error
}

// Locker serializes work on one key across engine instances.
type Locker interface {
	// Acquire blocks until the key is held or ctx is done. The returned
	// function releases the key.
	Acquire(ctx context.Context, key string) (release func(), err error)
}
