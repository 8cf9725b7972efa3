package service

import (
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// transitionComplete is the internal transition taken when routing reaches a
// final step.
const transitionComplete = "complete"

// RequestStateMachine holds the legal request status transitions. Every
// human and synthetic action code is a transition; approved and rejected
// accept none.
//
//	            approve, amend, to_employee, revert,
//	            auto_initiate, auto_condition
//	              ┌──────┐
//	              ▼      │
//	  submit ──► [pending]
//	              │     │
//	        complete   reject
//	              ▼     ▼
//	     [approved]   [rejected]
type RequestStateMachine struct {
	transitions map[statusTransitionKey]repository.RequestStatus
}

type statusTransitionKey struct {
	status repository.RequestStatus
	via    string
}

// NewRequestStateMachine creates the state machine with the request lifecycle
// rules.
func NewRequestStateMachine() *RequestStateMachine {
	sm := &RequestStateMachine{transitions: make(map[statusTransitionKey]repository.RequestStatus)}

	pending := repository.StatusPending
	for _, code := range []string{
		repository.ActionApprove,
		repository.ActionAmend,
		repository.ActionToEmployee,
		repository.ActionRevert,
		repository.ActionAutoInitiate,
		repository.ActionAutoCondition,
	} {
		sm.addTransition(pending, code, pending)
	}
	sm.addTransition(pending, transitionComplete, repository.StatusApproved)
	sm.addTransition(pending, repository.ActionReject, repository.StatusRejected)

	return sm
}

func (sm *RequestStateMachine) addTransition(from repository.RequestStatus, via string, to repository.RequestStatus) {
	sm.transitions[statusTransitionKey{status: from, via: via}] = to
}

// Transition returns the status reached from current via the given
// transition, or a conflict error when the transition is not allowed.
func (sm *RequestStateMachine) Transition(current repository.RequestStatus, via string) (repository.RequestStatus, error) {
	next, ok := sm.transitions[statusTransitionKey{status: current, via: via}]
	if !ok {
		return current, errors.Conflict("this request cannot be processed with '%s' in its current state (%s)", via, current)
	}
	return next, nil
}

// CanTransition reports whether the transition is allowed.
func (sm *RequestStateMachine) CanTransition(current repository.RequestStatus, via string) bool {
	_, ok := sm.transitions[statusTransitionKey{status: current, via: via}]
	return ok
}
