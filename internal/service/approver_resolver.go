package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Resolution is the outcome of routing to a step. Step differs from the step
// asked for when organization escalation moved past it.
type Resolution struct {
	Step      *repository.Step
	Approvers []string
}

// ApproverResolver computes who may act on a step. The organization
// hierarchy and branch are anchored on the request's requester.
type ApproverResolver struct {
	directory   Directory
	delegations DelegationStore
	now         func() time.Time
	log         *logger.Logger
}

// NewApproverResolver creates a new ApproverResolver.
func NewApproverResolver(directory Directory, delegations DelegationStore, now func() time.Time, log *logger.Logger) *ApproverResolver {
	if now == nil {
		now = time.Now
	}
	return &ApproverResolver{directory: directory, delegations: delegations, now: now, log: log}
}

// Resolve routes a request to step and returns the approver set. Final and
// condition steps resolve to no approvers; every other kind must produce at
// least one or a configuration error is returned.
func (r *ApproverResolver) Resolve(ctx context.Context, flow *repository.Flow, step *repository.Step, req *repository.Request) (*Resolution, error) {
	switch step.Kind() {
	case repository.StepKindFinal, repository.StepKindCondition:
		return &Resolution{Step: step}, nil
	case repository.StepKindInitiator:
		return &Resolution{Step: step, Approvers: []string{req.RequestedBy}}, nil
	case repository.StepKindEmployee:
		if req.RequestedForID == "" {
			return nil, errors.Configuration("no 'requested for' employee defined for request %s", req.ID)
		}
		return &Resolution{Step: step, Approvers: []string{req.RequestedForID}}, nil
	case repository.StepKindOrganization:
		return r.resolveOrganization(ctx, flow, step, req)
	default:
		return r.resolveStatic(ctx, step, req)
	}
}

// RoleMemberCount returns the size of a role, the committee denominator.
func (r *ApproverResolver) RoleMemberCount(ctx context.Context, roleID string) (int, error) {
	members, err := r.directory.RoleMembers(ctx, roleID)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read role members")
	}
	return len(members), nil
}

// ── Organization steps ───────────────────────────────────────────────────────

// resolveOrganization matches role members against every user in the
// requester's job hierarchy. With no match it escalates to the next
// organization step by sequence; sequence strictly increases so the walk
// terminates.
func (r *ApproverResolver) resolveOrganization(ctx context.Context, flow *repository.Flow, step *repository.Step, req *repository.Request) (*Resolution, error) {
	hierarchy, err := r.hierarchyUsers(ctx, req.RequestedBy)
	if err != nil {
		return nil, err
	}

	for current := step; current != nil; current = flow.NextOrganizationStep(current) {
		members, err := r.directory.RoleMembers(ctx, current.RoleID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read role members")
		}
		inRole := make(map[string]bool, len(members))
		for _, m := range members {
			inRole[m.ID] = true
		}

		var matched []string
		for _, id := range hierarchy {
			if inRole[id] {
				matched = append(matched, id)
			}
		}

		if len(matched) == 0 {
			r.log.Info().
				Str("request_id", req.ID).
				Str("step_id", current.ID).
				Str("role_id", current.RoleID).
				Msg("No hierarchy user holds the step role, escalating")
			continue
		}

		approvers, err := r.WithDelegates(ctx, matched)
		if err != nil {
			return nil, err
		}
		r.log.Debug().
			Str("request_id", req.ID).
			Str("step_id", current.ID).
			Strs("approvers", approvers).
			Msg("Organization approvers resolved")
		return &Resolution{Step: current, Approvers: approvers}, nil
	}

	return nil, errors.Configuration("no valid approver found in organization chart for request %s", req.ID).
		WithDetail("step_id", step.ID)
}

// hierarchyUsers lists the users of every job from the principal's own job up
// to the root, nearest level first, without duplicates.
func (r *ApproverResolver) hierarchyUsers(ctx context.Context, principal string) ([]string, error) {
	employee, err := r.directory.EmployeeForUser(ctx, principal)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read employee")
	}
	if employee == nil {
		r.log.Warn().Str("user_id", principal).Msg("No employee record found for requester")
		return nil, nil
	}

	jobs, err := r.directory.JobHierarchy(ctx, employee.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read job hierarchy")
	}

	seen := make(map[string]bool)
	var users []string
	for _, job := range jobs {
		employees, err := r.directory.EmployeesByJob(ctx, job.ID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read employees by job")
		}
		for _, e := range employees {
			if e.UserID != "" && !seen[e.UserID] {
				seen[e.UserID] = true
				users = append(users, e.UserID)
			}
		}
	}
	return users, nil
}

// ── Static steps ─────────────────────────────────────────────────────────────

// resolveStatic filters role members by branch. Cross-branch steps use the
// request's branch; others use the requester's branch, then the step's
// fallback branch.
func (r *ApproverResolver) resolveStatic(ctx context.Context, step *repository.Step, req *repository.Request) (*Resolution, error) {
	members, err := r.directory.RoleMembers(ctx, step.RoleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read role members")
	}

	var matched []string
	if step.CrossBranch {
		matched = inBranch(members, req.BranchID)
	} else {
		employee, err := r.directory.EmployeeForUser(ctx, req.RequestedBy)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read employee")
		}
		if employee != nil {
			matched = inBranch(members, employee.BranchID)
		}
		if len(matched) == 0 && step.FallbackBranchID != "" {
			matched = inBranch(members, step.FallbackBranchID)
		}
	}

	approvers, err := r.WithDelegates(ctx, matched)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		return nil, errors.Configuration("no valid approvers found for step '%s', ensure the role has users or active delegation rules", step.Name).
			WithDetail("step_id", step.ID)
	}
	return &Resolution{Step: step, Approvers: approvers}, nil
}

func inBranch(users []*repository.User, branchID string) []string {
	if branchID == "" {
		return nil
	}
	var out []string
	for _, u := range users {
		if u.DefaultBranchID == branchID {
			out = append(out, u.ID)
		}
	}
	return out
}

// ── Delegation ───────────────────────────────────────────────────────────────

// WithDelegates returns users together with every delegate active today. A
// user who delegated stays in the set.
func (r *ApproverResolver) WithDelegates(ctx context.Context, users []string) ([]string, error) {
	if len(users) == 0 {
		return nil, nil
	}
	delegates, err := r.delegations.ActiveDelegatesFor(ctx, users, r.now())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to resolve delegates")
	}
	return union(users, delegates), nil
}

// union returns a followed by the elements of b not already present.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
