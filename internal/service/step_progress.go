package service

import (
	"context"
	"math"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// StepState is where a request stands relative to one step.
type StepState string

const (
	StepStateCompleted StepState = "completed"
	StepStateSkipped   StepState = "skipped"
	StepStateCurrent   StepState = "current"
	StepStateUpcoming  StepState = "upcoming"
)

// StepProgress is one row of a request's progress view.
type StepProgress struct {
	StepID   string    `json:"step_id"`
	Name     string    `json:"name"`
	Sequence int       `json:"sequence"`
	Kind     string    `json:"kind"`
	State    StepState `json:"state"`
}

// Progress is the progress view of a request.
type Progress struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Percent   float64         `json:"percent"`
	Steps     []*StepProgress `json:"steps"`
}

// Progress reports every step of the request's flow in sequence order. Steps
// ordered before the current one that were never completed count as skipped.
func (e *ApprovalEngine) Progress(ctx context.Context, requestID string) (*Progress, error) {
	req, err := e.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	flow, err := e.flows.GetFlow(ctx, req.FlowID)
	if err != nil {
		return nil, err
	}
	return buildProgress(flow, req), nil
}

func buildProgress(flow *repository.Flow, req *repository.Request) *Progress {
	ordered := flow.StepsBySequence()
	out := &Progress{
		RequestID: req.ID,
		Status:    string(req.Status),
		Steps:     make([]*StepProgress, 0, len(ordered)),
	}

	currentIdx := -1
	for i, s := range ordered {
		if s.ID == req.CurrentStepID {
			currentIdx = i
			break
		}
	}

	done := 0
	for i, s := range ordered {
		state := StepStateUpcoming
		switch {
		case req.IsCompleted(s.ID):
			state = StepStateCompleted
		case i == currentIdx:
			state = StepStateCurrent
		case currentIdx >= 0 && i < currentIdx:
			state = StepStateSkipped
		}
		if state == StepStateCompleted || state == StepStateSkipped {
			done++
		}
		out.Steps = append(out.Steps, &StepProgress{
			StepID:   s.ID,
			Name:     s.Name,
			Sequence: s.Sequence,
			Kind:     s.Kind().String(),
			State:    state,
		})
	}

	switch {
	case len(ordered) == 0:
	case currentIdx >= 0 && req.IsCompleted(ordered[currentIdx].ID) &&
		(currentIdx+1 == len(ordered) || ordered[currentIdx+1].IsFinal):
		out.Percent = 100
	default:
		out.Percent = math.Round(float64(done)/float64(len(ordered))*10000) / 100
	}
	return out
}
