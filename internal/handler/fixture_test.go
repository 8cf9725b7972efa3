package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/lock"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store       *memory.Store
	engine      *service.ApprovalEngine
	flows       *service.FlowService
	delegations *service.DelegationService
	records     *service.RecordService
	flow        *repository.Flow
}

// newFixture wires the engine over an in-memory store with one registered
// two-level flow: buyers approve, then finance approves or rejects.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := memory.New(memory.WithClock(clock))
	catalog, err := service.LoadActionCatalog(context.Background(), store)
	require.NoError(t, err)

	engine := service.NewApprovalEngine(service.Dependencies{
		Flows:       store,
		Requests:    store,
		History:     store,
		Directory:   store,
		Delegations: store,
		Records:     store,
		Catalog:     catalog,
		Locker:      lock.NewLocalLocker(),
		Now:         clock,
		Log:         logger.Nop(),
	})
	f := &fixture{
		store:       store,
		engine:      engine,
		flows:       service.NewFlowService(store, catalog, logger.Nop()),
		delegations: service.NewDelegationService(store, clock, logger.Nop()),
		records:     service.NewRecordService(store, logger.Nop()),
	}

	for user, role := range map[string]string{"buyer": "buyers", "controller": "finance"} {
		store.PutUser(&repository.User{ID: user, DefaultBranchID: "hq"})
		store.AddGroupMember(role, user)
	}
	f.flow, err = f.flows.Register(context.Background(), testFlow())
	require.NoError(t, err)
	return f
}

func testFlow() *repository.Flow {
	step := func(id string, seq int, role, next string) *repository.Step {
		return &repository.Step{
			ID: id, Name: id, Sequence: seq, RoleID: role, CrossBranch: true,
			Actions: []repository.StepAction{
				{ActionCode: repository.ActionApprove, NextStepID: next},
				{ActionCode: repository.ActionReject},
			},
		}
	}
	return &repository.Flow{
		Name:     "purchase approval",
		ResModel: "purchase.order",
		Steps: []*repository.Step{
			{ID: "init", Name: "init", Sequence: 1, IsInitiator: true, NextStepIDs: []string{"buy"}},
			step("buy", 2, "buyers", "fin"),
			step("fin", 3, "finance", "done"),
			{ID: "done", Name: "done", Sequence: 4, IsFinal: true},
		},
	}
}
