package service

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// autoAdvanceInitiator moves a request off its initiator step without a human
// decision. The next step is the first matching condition when the initiator
// is also a condition step, else its first action target, else the first
// escalation candidate that routes.
func (t *transition) autoAdvanceInitiator(ctx context.Context) error {
	step := t.flow.Step(t.req.CurrentStepID)
	if step == nil || !step.IsInitiator {
		return errors.Configuration("request %s is not on an initiator step", t.req.ID)
	}
	action, err := t.e.catalog.Require(repository.ActionAutoInitiate)
	if err != nil {
		return err
	}

	var next *repository.Step
	if step.IsCondition {
		cond, err := t.e.evaluator.FirstMatch(ctx, step, t.req)
		if err != nil {
			return err
		}
		if cond != nil {
			next = t.flow.Step(cond.NextStepID)
		}
	}
	if next == nil && len(step.Actions) > 0 {
		next = t.flow.Step(step.Actions[0].NextStepID)
	}

	var res *Resolution
	if next != nil {
		if res, err = t.e.resolver.Resolve(ctx, t.flow, next, t.req); err != nil {
			return err
		}
	} else if res, err = t.firstRoutableCandidate(ctx, step); err != nil {
		return err
	}
	if res == nil {
		return errors.Configuration("unable to determine the next step from initiator step '%s'", step.Name)
	}

	t.markCompleted(step)
	if err := t.record(ctx, step, action, "Automatically advanced from initiator step."); err != nil {
		return err
	}
	return t.enter(ctx, res)
}

// autoAdvanceConditions walks a chain of condition steps, taking the first
// matching condition at each, then routes to the step the chain ends on. A
// step seen twice in one walk is a configuration error.
func (t *transition) autoAdvanceConditions(ctx context.Context, step *repository.Step) error {
	action, err := t.e.catalog.Require(repository.ActionAutoCondition)
	if err != nil {
		return err
	}

	visited := make(map[string]bool)
	for step.IsCondition {
		if visited[step.ID] {
			return errors.Configuration("workflow loop detected at step '%s'", step.Name).WithDetail("step_id", step.ID)
		}
		visited[step.ID] = true

		cond, err := t.e.evaluator.FirstMatch(ctx, step, t.req)
		if err != nil {
			return err
		}
		if cond == nil {
			return errors.Configuration("no matching condition found for step '%s'", step.Name).WithDetail("step_id", step.ID)
		}
		next := t.flow.Step(cond.NextStepID)
		if next == nil {
			return errors.Configuration("condition %s routes to unknown step %s", cond.ID, cond.NextStepID)
		}

		t.markCompleted(step)
		if err := t.record(ctx, step, action, "Automatically advanced via conditional logic."); err != nil {
			return err
		}
		t.req.CurrentStepID = next.ID
		step = next
	}

	res, err := t.e.resolver.Resolve(ctx, t.flow, step, t.req)
	if err != nil {
		return err
	}
	return t.enter(ctx, res)
}
