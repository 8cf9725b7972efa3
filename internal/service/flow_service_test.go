package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
)

func newFlowService(t *testing.T) (*FlowService, *memory.Store) {
	t.Helper()
	store := memory.New(memory.WithClock(fixedClock))
	catalog, err := LoadActionCatalog(context.Background(), store)
	require.NoError(t, err)
	return NewFlowService(store, catalog, nil), store
}

func TestFlowService_RegisterAndArchive(t *testing.T) {
	svc, _ := newFlowService(t)
	ctx := context.Background()

	flow, err := svc.Register(ctx, newFlow("purchase approval",
		initiatorStep("init", 1, "buy"),
		roleStep("buy", 2, "buyers", "done"),
		finalStep("done", 3),
	))
	require.NoError(t, err)
	assert.NotEmpty(t, flow.ID)
	assert.True(t, flow.Active)

	listed, err := svc.List(ctx, testModel)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, svc.Archive(ctx, flow.ID))
	listed, err = svc.List(ctx, testModel)
	require.NoError(t, err)
	assert.Empty(t, listed)

	got, err := svc.Get(ctx, flow.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestFlowService_RegisterRejectsBadFlows(t *testing.T) {
	svc, _ := newFlowService(t)

	unknownAction := roleStep("buy", 2, "buyers", "done")
	unknownAction.Actions = append(unknownAction.Actions, repository.StepAction{ActionCode: "escalate"})

	tests := []struct {
		name string
		flow *repository.Flow
		code errors.Code
	}{
		{"nil", nil, errors.ErrCodeInvalidInput},
		{"no name", newFlow("", initiatorStep("init", 1, "done"), finalStep("done", 2)), errors.ErrCodeInvalidInput},
		{"no initiator", newFlow("x", finalStep("done", 2)), errors.ErrCodeConfiguration},
		{"unknown action", newFlow("x", initiatorStep("init", 1, "buy"), unknownAction, finalStep("done", 3)), errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.flow)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestFlowService_ArchiveMissing(t *testing.T) {
	svc, _ := newFlowService(t)
	err := svc.Archive(context.Background(), "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}
