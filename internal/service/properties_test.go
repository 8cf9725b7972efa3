package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Completed steps only grow, except when an amend starts a new cycle.
func TestCompletedSteps_Monotone(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		f.member("buyers", "u1", "hq")
		f.member("finance", "u2", "hq")
		second := roleStep("second", 3, "finance", "done")
		second.Actions[3].NextStepID = "first"
		flow := f.saveFlow(rt, newFlow("two stage",
			initiatorStep("init", 1, "first"),
			roleStep("first", 2, "buyers", "second"),
			second,
			finalStep("done", 4),
		))
		req := f.submit(rt, flow, "1", "requester")
		previous := req.CompletedStepIDs
		current := req.CurrentStepID

		actions := []string{repository.ActionApprove, repository.ActionRevert, repository.ActionAmend, repository.ActionReject}
		users := []string{"u1", "u2", "requester"}
		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			code := rapid.SampledFrom(actions).Draw(rt, "action")
			user := rapid.SampledFrom(users).Draw(rt, "user")

			updated, err := f.act(req, code, user)
			if err != nil {
				stored, getErr := f.engine.GetRequest(context.Background(), req.ID)
				require.NoError(rt, getErr)
				assert.ElementsMatch(rt, previous, stored.CompletedStepIDs)
				continue
			}
			// At the initiator step any action is a resubmission.
			if code == repository.ActionAmend && current != "init" {
				assert.Empty(rt, updated.CompletedStepIDs)
				previous, current = updated.CompletedStepIDs, updated.CurrentStepID
				continue
			}
			for _, id := range previous {
				assert.Contains(rt, updated.CompletedStepIDs, id)
			}
			previous, current = updated.CompletedStepIDs, updated.CurrentStepID
		}
	})
}

// A chain of condition steps that loops back is refused, never followed
// forever.
func TestAutoAdvance_ConditionCycleFails(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 5).Draw(rt, "chain")
		f := newFixture(rt)
		f.record(rt, testModel, "1", map[string]interface{}{"amount_total": 10.0})

		steps := []*repository.Step{initiatorStep("init", 1, "c0")}
		for i := 0; i < n; i++ {
			next := fmt.Sprintf("c%d", (i+1)%n)
			steps = append(steps, &repository.Step{
				ID: fmt.Sprintf("c%d", i), Name: fmt.Sprintf("c%d", i), Sequence: i + 2, IsCondition: true,
				Conditions: []*repository.Condition{amountCondition(fmt.Sprintf("k%d", i), 1, repository.OpGreaterEqual, "0", next)},
			})
		}
		steps = append(steps, finalStep("done", n+2))
		flow := f.saveFlow(rt, newFlow("cycle", steps...))

		err := flow.Validate()
		require.Error(rt, err)
		assert.True(rt, errors.IsCode(err, errors.ErrCodeConfiguration))

		// Bypass registration checks to exercise the runtime guard.
		req := &repository.Request{
			ID: "r", FlowID: flow.ID, ResModel: testModel, ResID: "1",
			CurrentStepID: "init", Status: repository.StatusPending,
			Approvers: []string{"requester"}, RequestedBy: "requester", Cycle: 1,
		}
		var tr *transition
		err = f.store.RunInTx(context.Background(), func(ctx context.Context, tx repository.RequestTx) error {
			tr = f.engine.newTransition(tx, flow, req, "requester", "")
			return tr.autoAdvanceInitiator(ctx)
		})
		require.Error(rt, err)
		assert.True(rt, errors.IsCode(err, errors.ErrCodeConfiguration))
		assert.Contains(rt, err.Error(), "workflow loop detected")

		seen := make(map[string]int)
		for _, id := range tr.req.CompletedStepIDs {
			seen[id]++
			assert.Equal(rt, 1, seen[id])
		}
	})
}

// Delegation resolution is a set union of the users and their delegates
// active on the day.
func TestDelegation_UnionOfActiveDelegates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt)
		ctx := context.Background()
		day := repository.DateOf(testNow)

		n := rapid.IntRange(0, 6).Draw(rt, "users")
		users := make([]string, n)
		expected := make(map[string]bool)
		for i := range users {
			users[i] = fmt.Sprintf("u%d", i)
			expected[users[i]] = true

			kind := rapid.IntRange(0, 3).Draw(rt, "delegation")
			delegate := fmt.Sprintf("d%d", i)
			d := &repository.Delegation{OriginalUserID: users[i], DelegateUserID: delegate, Active: true}
			switch kind {
			case 0:
				continue
			case 1:
				d.StartDate, d.EndDate = day, day
				expected[delegate] = true
			case 2:
				d.StartDate, d.EndDate = day.AddDate(0, 0, -3), day.AddDate(0, 0, -1)
			case 3:
				d.StartDate, d.EndDate = day.AddDate(0, 0, -1), day.AddDate(0, 0, 1)
				d.Active = false
			}
			require.NoError(rt, f.store.CreateDelegation(ctx, d))
		}

		got, err := f.engine.resolver.WithDelegates(ctx, users)
		require.NoError(rt, err)

		gotSet := make(map[string]bool, len(got))
		for _, id := range got {
			assert.False(rt, gotSet[id], "duplicate %s", id)
			gotSet[id] = true
		}
		assert.Equal(rt, expected, gotSet)
		if n > 0 {
			assert.Equal(rt, users, got[:n])
		}
	})
}

func TestDelegation_Example(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateDelegation(ctx, &repository.Delegation{
		OriginalUserID: "A", DelegateUserID: "A'", Active: true,
		StartDate: testNow.Add(-24 * time.Hour), EndDate: testNow,
	}))

	got, err := f.engine.resolver.WithDelegates(ctx, []string{"A", "B"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "A'", "B"}, got)
}
