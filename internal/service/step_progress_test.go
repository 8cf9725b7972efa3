package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func progressFlow() *repository.Flow {
	return newFlow("progress",
		initiatorStep("init", 1, "a"),
		roleStep("a", 2, "buyers", "b"),
		roleStep("b", 3, "finance", "c"),
		roleStep("c", 4, "board", "done"),
		finalStep("done", 5),
	)
}

func states(p *Progress) []StepState {
	out := make([]StepState, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.State
	}
	return out
}

func TestBuildProgress(t *testing.T) {
	flow := progressFlow()

	t.Run("midway with a skipped step", func(t *testing.T) {
		req := &repository.Request{ID: "r", Status: repository.StatusPending, CurrentStepID: "c", CompletedStepIDs: []string{"init", "a"}}
		p := buildProgress(flow, req)
		assert.Equal(t, []StepState{
			StepStateCompleted, StepStateCompleted, StepStateSkipped, StepStateCurrent, StepStateUpcoming,
		}, states(p))
		assert.Equal(t, 60.0, p.Percent)
		assert.Equal(t, "initiator", p.Steps[0].Kind)
		assert.Equal(t, "final", p.Steps[4].Kind)
	})

	t.Run("finished", func(t *testing.T) {
		req := &repository.Request{ID: "r", Status: repository.StatusApproved, CurrentStepID: "done",
			CompletedStepIDs: []string{"init", "a", "b", "c", "done"}}
		p := buildProgress(flow, req)
		assert.Equal(t, 100.0, p.Percent)
		assert.Equal(t, "approved", p.Status)
	})

	t.Run("rounded to two decimals", func(t *testing.T) {
		three := newFlow("three", initiatorStep("init", 1, "a"), roleStep("a", 2, "buyers", "done"), finalStep("done", 3))
		req := &repository.Request{ID: "r", CurrentStepID: "a", CompletedStepIDs: []string{"init"}}
		assert.Equal(t, 33.33, buildProgress(three, req).Percent)
	})
}

func TestApprovalEngine_Progress(t *testing.T) {
	f := newFixture(t)
	f.member("buyers", "u1", "hq")
	flow := f.saveFlow(t, newFlow("single",
		initiatorStep("init", 1, "buy"),
		roleStep("buy", 2, "buyers", "done"),
		finalStep("done", 3),
	))
	req := f.submit(t, flow, "1", "requester")

	p, err := f.engine.Progress(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, p.RequestID)
	assert.Equal(t, []StepState{StepStateCompleted, StepStateCurrent, StepStateUpcoming}, states(p))

	_, err = f.act(req, repository.ActionApprove, "u1")
	require.NoError(t, err)
	p, err = f.engine.Progress(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.Percent)
}
