package repository

import (
	"sort"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
)

// Step returns the step with the given ID, or nil.
func (f *Flow) Step(id string) *Step {
	if id == "" {
		return nil
	}
	for _, s := range f.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Initiator returns the flow's initiator step, or nil.
func (f *Flow) Initiator() *Step {
	for _, s := range f.Steps {
		if s.IsInitiator {
			return s
		}
	}
	return nil
}

// StepsBySequence returns the steps ordered by sequence, ties broken by ID.
// The flow itself is not modified.
func (f *Flow) StepsBySequence() []*Step {
	out := make([]*Step, len(f.Steps))
	copy(out, f.Steps)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// NextOrganizationStep returns the first organization step strictly after
// the given step in sequence order, or nil when none remains.
func (f *Flow) NextOrganizationStep(after *Step) *Step {
	ordered := f.StepsBySequence()
	idx := indexOf(ordered, after.ID)
	if idx < 0 {
		return nil
	}
	for _, s := range ordered[idx+1:] {
		if s.IsOrganization {
			return s
		}
	}
	return nil
}

// SortedConditions returns the step's conditions in evaluation order.
func (s *Step) SortedConditions() []*Condition {
	out := make([]*Condition, len(s.Conditions))
	copy(out, s.Conditions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func indexOf(steps []*Step, id string) int {
	for i, s := range steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// ── Validation ───────────────────────────────────────────────────────────────

// Validate checks the structural invariants of a flow definition. The
// returned error carries ErrCodeConfiguration.
func (f *Flow) Validate() error {
	if f.ResModel == "" {
		return errors.Configuration("flow %q has no target record model", f.Name)
	}
	if len(f.Steps) == 0 {
		return errors.Configuration("flow %q has no steps", f.Name)
	}

	seen := make(map[string]bool, len(f.Steps))
	initiators, finals := 0, 0
	for _, s := range f.Steps {
		if s.ID == "" {
			return errors.Configuration("flow %q has a step without an id", f.Name)
		}
		if seen[s.ID] {
			return errors.Configuration("flow %q has duplicate step id %s", f.Name, s.ID)
		}
		seen[s.ID] = true
		if s.IsInitiator {
			initiators++
		}
		if s.IsFinal {
			finals++
		}
	}
	if initiators != 1 {
		return errors.Configuration("flow %q must have exactly one initiator step, found %d", f.Name, initiators)
	}
	if finals == 0 {
		return errors.Configuration("flow %q must have at least one final step", f.Name)
	}

	for _, s := range f.Steps {
		if err := f.validateStep(s, seen); err != nil {
			return err
		}
	}
	return f.validateAutoAdvanceAcyclic()
}

func (f *Flow) validateStep(s *Step, known map[string]bool) error {
	if s.IsCondition && len(s.Conditions) == 0 {
		return errors.Configuration("condition step %q has no conditions", s.Name)
	}
	if !s.IsInitiator && !s.IsFinal && !s.IsEmployeeStep && !s.IsCondition && s.RoleID == "" {
		return errors.Configuration("step %q requires an approver role", s.Name)
	}
	if s.CommitteeApproval && (s.RequiredApprovalPercent <= 0 || s.RequiredApprovalPercent > 100) {
		return errors.Configuration("committee step %q must require between 1 and 100 percent, got %v",
			s.Name, s.RequiredApprovalPercent)
	}
	for _, id := range s.NextStepIDs {
		if !known[id] {
			return errors.Configuration("step %q references unknown next step %s", s.Name, id)
		}
	}
	for _, a := range s.Actions {
		if a.ActionCode == "" {
			return errors.Configuration("step %q has an action mapping without a code", s.Name)
		}
		if a.NextStepID != "" && !known[a.NextStepID] {
			return errors.Configuration("step %q action %s references unknown step %s", s.Name, a.ActionCode, a.NextStepID)
		}
	}
	for _, c := range s.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
		if !known[c.NextStepID] {
			return errors.Configuration("condition %s on step %q references unknown step %s", c.ID, s.Name, c.NextStepID)
		}
	}
	return nil
}

// Validate checks that the condition carries the reference its field
// selector needs.
func (c *Condition) Validate() error {
	switch c.Field {
	case FieldUserGroup, FieldLastUpdatorGroup:
		if c.GroupID == "" {
			return errors.Configuration("condition %s checks a group but has no group reference", c.ID)
		}
	case FieldCustom:
		if c.CustomFieldPath == "" {
			return errors.Configuration("condition %s checks a custom field but has no field path", c.ID)
		}
	case FieldAmountTotal, FieldPartner:
		if c.Value == "" {
			return errors.Configuration("condition %s has no comparison value", c.ID)
		}
	default:
		return errors.Configuration("condition %s has unknown field selector %q", c.ID, c.Field)
	}
	switch c.Operator {
	case OpEqual, OpNotEqual, OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
	default:
		return errors.Configuration("condition %s has unknown operator %q", c.ID, c.Operator)
	}
	switch c.Aggregation {
	case "", AggregationNone, AggregationSum, AggregationMax, AggregationMin, AggregationCount:
	default:
		return errors.Configuration("condition %s has unknown aggregation %q", c.ID, c.Aggregation)
	}
	if c.NextStepID == "" {
		return errors.Configuration("condition %s has no next step", c.ID)
	}
	return nil
}

// validateAutoAdvanceAcyclic rejects cycles among condition steps, the only
// edges auto-advance follows without a human decision. Manual action and
// escalation edges may legitimately loop back.
func (f *Flow) validateAutoAdvanceAcyclic() error {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(f.Steps))

	var visit func(s *Step) error
	visit = func(s *Step) error {
		switch state[s.ID] {
		case onStack:
			return errors.Configuration("flow %q has a condition cycle through step %q", f.Name, s.Name)
		case done:
			return nil
		}
		state[s.ID] = onStack
		for _, c := range s.Conditions {
			next := f.Step(c.NextStepID)
			if next != nil && next.IsCondition {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		state[s.ID] = done
		return nil
	}

	for _, s := range f.Steps {
		if s.IsCondition {
			if err := visit(s); err != nil {
				return err
			}
		}
	}
	return nil
}
