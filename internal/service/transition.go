package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// transition is one unit of work on a locked request. It mutates req in
// place, appends history through tx and collects notifications that are
// sent only after commit.
type transition struct {
	e             *ApprovalEngine
	tx            repository.RequestTx
	flow          *repository.Flow
	req           *repository.Request
	actor         string
	comment       string
	notifications []notification
}

type notification struct {
	userID  string
	message string
}

// apply validates and applies a human action.
func (t *transition) apply(ctx context.Context, code string) error {
	action, err := t.e.catalog.Lookup(code)
	if err != nil {
		return err
	}
	switch code {
	case repository.ActionApprove, repository.ActionReject, repository.ActionAmend,
		repository.ActionToEmployee, repository.ActionRevert:
	default:
		return errors.InvalidInput("action", fmt.Sprintf("action '%s' cannot be requested directly", code))
	}

	if _, err := t.e.states.Transition(t.req.Status, code); err != nil {
		return err
	}
	step := t.flow.Step(t.req.CurrentStepID)
	if step == nil {
		return errors.Configuration("no current step defined for request %s", t.req.ID)
	}
	if !t.req.IsApprover(t.actor) {
		return errors.Forbidden("you are not authorized to perform '%s' on this request", code)
	}
	mapping, ok := step.ActionFor(code)
	if !ok {
		return errors.InvalidInput("action", fmt.Sprintf("no '%s' action defined for step '%s'", code, step.Name))
	}

	switch code {
	case repository.ActionApprove:
		if step.CommitteeApproval {
			return t.vote(ctx, step, action, mapping)
		}
		return t.approve(ctx, step, action, mapping)
	case repository.ActionReject:
		return t.reject(ctx, step, action)
	case repository.ActionAmend:
		return t.amend(ctx, step, action)
	case repository.ActionToEmployee:
		return t.toEmployee(ctx, step, action, mapping)
	default:
		return t.revert(ctx, step, action, mapping)
	}
}

// resubmit advances a request that was returned to its initiator step. The
// initiator step needs no decision, so the acting user is not checked.
func (t *transition) resubmit(ctx context.Context) error {
	if _, err := t.e.states.Transition(t.req.Status, repository.ActionAutoInitiate); err != nil {
		return err
	}
	return t.autoAdvanceInitiator(ctx)
}

// ── Approve ──────────────────────────────────────────────────────────────────

func (t *transition) approve(ctx context.Context, step *repository.Step, action *repository.Action, mapping repository.StepAction) error {
	next, err := t.chooseNext(ctx, step, mapping)
	if err != nil {
		return err
	}
	t.markCompleted(step)
	if err := t.record(ctx, step, action, t.comment); err != nil {
		return err
	}
	return t.enter(ctx, next)
}

// vote records one committee approval. The acting user leaves the approver
// set; the step completes once recorded votes in this cycle reach the
// required count.
func (t *transition) vote(ctx context.Context, step *repository.Step, action *repository.Action, mapping repository.StepAction) error {
	members, err := t.e.resolver.RoleMemberCount(ctx, step.RoleID)
	if err != nil {
		return err
	}
	if members == 0 {
		return errors.Configuration("no users found in the approver role for step '%s'", step.Name)
	}
	required := RequiredVotes(step.RequiredApprovalPercent, members)

	prior, err := t.tx.CountVotes(ctx, t.req.ID, step.ID, action.ID, t.req.Cycle)
	if err != nil {
		return err
	}
	if err := t.record(ctx, step, action, t.comment); err != nil {
		return err
	}
	t.req.Approvers = without(t.req.Approvers, t.actor)

	if prior+1 < required {
		t.e.log.Debug().
			Str("request_id", t.req.ID).
			Str("step_id", step.ID).
			Int("votes", prior+1).
			Int("required", required).
			Msg("Committee vote recorded")
		return nil
	}

	next, err := t.chooseNext(ctx, step, mapping)
	if err != nil {
		return err
	}
	t.markCompleted(step)
	return t.enter(ctx, next)
}

// ── Reject / amend / send to employee / revert ───────────────────────────────

func (t *transition) reject(ctx context.Context, step *repository.Step, action *repository.Action) error {
	status, err := t.e.states.Transition(t.req.Status, repository.ActionReject)
	if err != nil {
		return err
	}
	now := t.e.now()
	t.req.Status = status
	t.req.RejectedAt = &now
	t.req.Approvers = nil
	return t.record(ctx, step, action, t.comment)
}

// amend returns the request to its requester at the initiator step and
// starts a new cycle: completed steps and committee votes start over.
func (t *transition) amend(ctx context.Context, step *repository.Step, action *repository.Action) error {
	initiator := t.flow.Initiator()
	if initiator == nil {
		return errors.Configuration("no initiator step defined in flow %s", t.flow.ID)
	}
	status, err := t.e.states.Transition(t.req.Status, repository.ActionAmend)
	if err != nil {
		return err
	}
	if err := t.record(ctx, step, action, t.comment); err != nil {
		return err
	}

	t.req.Status = status
	t.req.CurrentStepID = initiator.ID
	t.req.CompletedStepIDs = nil
	t.req.Cycle++
	t.req.Approvers = nil
	if t.req.RequestedBy != "" {
		t.assign([]string{t.req.RequestedBy}, "Your request has been returned for amendment.")
	}
	return nil
}

func (t *transition) toEmployee(ctx context.Context, step *repository.Step, action *repository.Action, mapping repository.StepAction) error {
	if t.req.RequestedForID == "" {
		return errors.Configuration("no 'requested for' employee defined for request %s", t.req.ID)
	}
	target := t.flow.Step(mapping.NextStepID)
	if target == nil {
		return errors.Configuration("no next step is defined for 'send to employee' on step '%s'", step.Name)
	}
	status, err := t.e.states.Transition(t.req.Status, repository.ActionToEmployee)
	if err != nil {
		return err
	}
	if err := t.record(ctx, step, action, t.comment); err != nil {
		return err
	}

	t.req.Status = status
	t.req.CurrentStepID = target.ID
	t.assign([]string{t.req.RequestedForID}, "This request has been sent to you for review.")
	return nil
}

// revert moves the request to the mapped step, or keeps it on the current
// one, without resolving approvers.
func (t *transition) revert(ctx context.Context, step *repository.Step, action *repository.Action, mapping repository.StepAction) error {
	target := step
	if mapping.NextStepID != "" {
		if target = t.flow.Step(mapping.NextStepID); target == nil {
			return errors.Configuration("step '%s' reverts to unknown step %s", step.Name, mapping.NextStepID)
		}
	}
	status, err := t.e.states.Transition(t.req.Status, repository.ActionRevert)
	if err != nil {
		return err
	}
	if err := t.record(ctx, step, action, t.comment); err != nil {
		return err
	}
	t.req.Status = status
	t.req.CurrentStepID = target.ID
	return nil
}

// ── Routing ──────────────────────────────────────────────────────────────────

// chooseNext resolves the step an action leads to: the step-action target
// when mapped, otherwise the first escalation candidate that routes.
func (t *transition) chooseNext(ctx context.Context, step *repository.Step, mapping repository.StepAction) (*Resolution, error) {
	if mapping.NextStepID != "" {
		next := t.flow.Step(mapping.NextStepID)
		if next == nil {
			return nil, errors.Configuration("step '%s' routes to unknown step %s", step.Name, mapping.NextStepID)
		}
		return t.e.resolver.Resolve(ctx, t.flow, next, t.req)
	}
	if len(step.Conditions) == 0 {
		res, err := t.firstRoutableCandidate(ctx, step)
		if err != nil || res != nil {
			return res, err
		}
	}
	return nil, errors.Configuration("unable to determine the next step from step '%s'", step.Name)
}

// firstRoutableCandidate tries the step's unconditional next steps in order
// and returns the first the resolver can route to, or nil.
func (t *transition) firstRoutableCandidate(ctx context.Context, step *repository.Step) (*Resolution, error) {
	for _, id := range step.NextStepIDs {
		candidate := t.flow.Step(id)
		if candidate == nil {
			continue
		}
		res, err := t.e.resolver.Resolve(ctx, t.flow, candidate, t.req)
		if err == nil {
			return res, nil
		}
		if !errors.IsCode(err, errors.ErrCodeConfiguration) {
			return nil, err
		}
		t.e.log.Debug().Err(err).
			Str("request_id", t.req.ID).
			Str("candidate_step_id", candidate.ID).
			Msg("Escalation candidate not routable")
	}
	return nil, nil
}

// enter moves the request onto a resolved step.
func (t *transition) enter(ctx context.Context, res *Resolution) error {
	step := res.Step
	switch step.Kind() {
	case repository.StepKindFinal:
		status, err := t.e.states.Transition(t.req.Status, transitionComplete)
		if err != nil {
			return err
		}
		now := t.e.now()
		t.req.Status = status
		t.req.ApprovedAt = &now
		t.req.CurrentStepID = step.ID
		t.req.Approvers = nil
		t.markCompleted(step)
		return nil
	case repository.StepKindCondition:
		t.req.CurrentStepID = step.ID
		return t.autoAdvanceConditions(ctx, step)
	default:
		t.req.CurrentStepID = step.ID
		t.assign(res.Approvers, fmt.Sprintf("Please take action on approval request for %s #%s.", t.req.ResModel, t.req.ResID))
		return nil
	}
}

// ── Internal helpers ─────────────────────────────────────────────────────────

func (t *transition) record(ctx context.Context, step *repository.Step, action *repository.Action, comment string) error {
	return t.tx.AppendHistory(ctx, &repository.HistoryEntry{
		RequestID:  t.req.ID,
		StepID:     step.ID,
		ActionID:   action.ID,
		ActionCode: action.Code,
		UserID:     t.actor,
		Comment:    comment,
		Cycle:      t.req.Cycle,
	})
}

func (t *transition) markCompleted(step *repository.Step) {
	if !t.req.IsCompleted(step.ID) {
		t.req.CompletedStepIDs = append(t.req.CompletedStepIDs, step.ID)
	}
}

func (t *transition) assign(approvers []string, message string) {
	t.req.Approvers = approvers
	for _, id := range approvers {
		t.notifications = append(t.notifications, notification{userID: id, message: message})
	}
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
