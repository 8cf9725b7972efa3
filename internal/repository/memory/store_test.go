package memory

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newStore() *Store {
	return New(WithClock(func() time.Time { return testNow }))
}

func createRequest(t *testing.T, s *Store, resID string) *repository.Request {
	t.Helper()
	req := &repository.Request{
		FlowID: "f1", ResModel: "purchase.order", ResID: resID,
		Status: repository.StatusPending, CurrentStepID: "s1",
		Approvers: []string{"u1"}, RequestedBy: "requester", Cycle: 1,
	}
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
		if err := tx.CreateRequest(ctx, req); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &repository.HistoryEntry{RequestID: req.ID, StepID: "s0", ActionID: "a", ActionCode: "auto_initiate", Cycle: 1})
	})
	require.NoError(t, err)
	return req
}

func TestRunInTx_Commit(t *testing.T) {
	s := newStore()
	req := createRequest(t, s, "1")

	got, err := s.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, testNow, got.CreatedAt)

	history, err := s.ListHistory(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
}

func TestRunInTx_RollbackDiscardsEverything(t *testing.T) {
	s := newStore()
	req := createRequest(t, s, "1")
	boom := stderrors.New("boom")

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
		locked, err := tx.LockRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		locked.Status = repository.StatusRejected
		if err := tx.SaveRequest(ctx, locked); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &repository.HistoryEntry{RequestID: req.ID, ActionCode: "reject"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)
	history, err := s.ListHistory(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunInTx_StaleVersionConflicts(t *testing.T) {
	s := newStore()
	req := createRequest(t, s, "1")

	stale := req.Clone()
	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
		locked, err := tx.LockRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		locked.CurrentStepID = "s2"
		return tx.SaveRequest(ctx, locked)
	}))

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
		return tx.SaveRequest(ctx, stale)
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))
}

func TestRunInTx_ReadsOwnWrites(t *testing.T) {
	s := newStore()
	req := createRequest(t, s, "1")

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
		locked, err := tx.LockRequest(ctx, req.ID)
		require.NoError(t, err)
		locked.Cycle = 2
		require.NoError(t, tx.SaveRequest(ctx, locked))

		again, err := tx.LockRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, again.Cycle)
		assert.Equal(t, int64(2), again.Version)

		require.NoError(t, tx.AppendHistory(ctx, &repository.HistoryEntry{RequestID: req.ID, StepID: "s1", ActionID: "approve", Cycle: 2}))
		n, err := tx.CountVotes(ctx, req.ID, "s1", "approve", 2)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = tx.CountVotes(ctx, req.ID, "s1", "approve", 1)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
	require.NoError(t, err)
}

func TestRunInTx_FindPendingByRecord(t *testing.T) {
	s := newStore()
	req := createRequest(t, s, "1")

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
		found, err := tx.FindPendingByRecord(ctx, "purchase.order", "1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, req.ID, found.ID)

		none, err := tx.FindPendingByRecord(ctx, "purchase.order", "2")
		require.NoError(t, err)
		assert.Nil(t, none)

		found.Status = repository.StatusApproved
		require.NoError(t, tx.SaveRequest(ctx, found))
		none, err = tx.FindPendingByRecord(ctx, "purchase.order", "1")
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestRunInTx_LockSerializesWriters(t *testing.T) {
	s := newStore()
	req := createRequest(t, s, "1")

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
				locked, err := tx.LockRequest(ctx, req.ID)
				if err != nil {
					return err
				}
				locked.Cycle++
				return tx.SaveRequest(ctx, locked)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+writers, got.Cycle)
	assert.Equal(t, int64(1+writers), got.Version)
}

func TestStore_ListPendingForUserAndCounts(t *testing.T) {
	s := newStore()
	first := createRequest(t, s, "1")
	createRequest(t, s, "2")

	require.NoError(t, s.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
		locked, err := tx.LockRequest(ctx, first.ID)
		if err != nil {
			return err
		}
		locked.Status = repository.StatusApproved
		locked.Approvers = nil
		return tx.SaveRequest(ctx, locked)
	}))

	pending, err := s.ListPendingForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].ResID)

	counts, err := s.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []repository.StatusCount{
		{ResModel: "purchase.order", Status: repository.StatusApproved, Count: 1},
		{ResModel: "purchase.order", Status: repository.StatusPending, Count: 1},
	}, counts)
}

func TestStore_Flows(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	flow := &repository.Flow{Name: "b", ResModel: "purchase.order", Active: true, Steps: []*repository.Step{
		{ID: "c", IsCondition: true, Conditions: []*repository.Condition{{Field: repository.FieldAmountTotal, NextStepID: "x"}}},
	}}
	require.NoError(t, s.SaveFlow(ctx, flow))
	require.NoError(t, s.SaveFlow(ctx, &repository.Flow{Name: "a", ResModel: "purchase.order", Active: true}))
	require.NoError(t, s.SaveFlow(ctx, &repository.Flow{Name: "z", ResModel: "sale.order", Active: true}))

	assert.NotEmpty(t, flow.ID)
	assert.Equal(t, flow.ID, flow.Steps[0].FlowID)
	assert.Equal(t, "c", flow.Steps[0].Conditions[0].StepID)
	assert.NotEmpty(t, flow.Steps[0].Conditions[0].ID)

	listed, err := s.ListFlows(ctx, "purchase.order")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "a", listed[0].Name)

	require.NoError(t, s.SetActive(ctx, flow.ID, false))
	listed, err = s.ListFlows(ctx, "")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = s.GetFlow(ctx, "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestStore_SetActiveDoesNotMutateSharedFlow(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	flow := &repository.Flow{Name: "a", ResModel: "purchase.order", Active: true}
	require.NoError(t, s.SaveFlow(ctx, flow))

	before, err := s.GetFlow(ctx, flow.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(active bool) {
			defer wg.Done()
			assert.NoError(t, s.SetActive(ctx, flow.ID, active))
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			got, err := s.GetFlow(ctx, flow.ID)
			if assert.NoError(t, err) {
				_ = got.Active
			}
		}()
	}
	wg.Wait()

	require.NoError(t, s.SetActive(ctx, flow.ID, false))
	assert.True(t, before.Active, "flows already handed out keep their state")
	after, err := s.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.False(t, after.Active)
	assert.Equal(t, before.Steps, after.Steps)
}

func TestStore_Directory(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	s.PutJob(&repository.Job{ID: "clerk", ParentID: "lead"})
	s.PutJob(&repository.Job{ID: "lead", ParentID: "head"})
	s.PutJob(&repository.Job{ID: "head", ParentID: "clerk"})
	s.PutEmployee(&repository.Employee{ID: "e1", UserID: "u1", JobID: "clerk"})
	s.PutEmployee(&repository.Employee{ID: "e2", UserID: "u2", JobID: "lead"})
	s.AddGroupMember("leads", "u2")
	s.PutUser(&repository.User{ID: "u2", DefaultBranchID: "hq"})

	jobs, err := s.JobHierarchy(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, jobs, 3, "a parent cycle stops at the repeated job")
	assert.Equal(t, "clerk", jobs[0].ID)

	emp, err := s.EmployeeForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "e2", emp.ID)
	emp, err = s.EmployeeForUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, emp)

	byJob, err := s.EmployeesByJob(ctx, "lead")
	require.NoError(t, err)
	require.Len(t, byJob, 1)

	members, err := s.RoleMembers(ctx, "leads")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "hq", members[0].DefaultBranchID)

	groups, err := s.GroupMembership(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"leads"}, groups)
}
