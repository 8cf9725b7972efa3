package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func TestRequestStateMachine(t *testing.T) {
	sm := NewRequestStateMachine()

	tests := []struct {
		from    repository.RequestStatus
		via     string
		to      repository.RequestStatus
		allowed bool
	}{
		{repository.StatusPending, repository.ActionApprove, repository.StatusPending, true},
		{repository.StatusPending, repository.ActionAmend, repository.StatusPending, true},
		{repository.StatusPending, repository.ActionToEmployee, repository.StatusPending, true},
		{repository.StatusPending, repository.ActionRevert, repository.StatusPending, true},
		{repository.StatusPending, repository.ActionAutoInitiate, repository.StatusPending, true},
		{repository.StatusPending, repository.ActionAutoCondition, repository.StatusPending, true},
		{repository.StatusPending, transitionComplete, repository.StatusApproved, true},
		{repository.StatusPending, repository.ActionReject, repository.StatusRejected, true},
		{repository.StatusApproved, repository.ActionApprove, repository.StatusApproved, false},
		{repository.StatusApproved, repository.ActionReject, repository.StatusApproved, false},
		{repository.StatusRejected, repository.ActionAmend, repository.StatusRejected, false},
		{repository.StatusRejected, repository.ActionAutoInitiate, repository.StatusRejected, false},
		{repository.StatusPending, "escalate", repository.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.via, func(t *testing.T) {
			assert.Equal(t, tt.allowed, sm.CanTransition(tt.from, tt.via))

			to, err := sm.Transition(tt.from, tt.via)
			assert.Equal(t, tt.to, to)
			if tt.allowed {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
		})
	}
}

func TestRequestStatus_IsTerminal(t *testing.T) {
	assert.False(t, repository.StatusPending.IsTerminal())
	assert.True(t, repository.StatusApproved.IsTerminal())
	assert.True(t, repository.StatusRejected.IsTerminal())
}
