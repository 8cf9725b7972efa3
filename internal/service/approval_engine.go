package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Dependencies are the collaborators of an ApprovalEngine. Notifier and
// Metrics are optional.
type Dependencies struct {
	Flows       FlowStore
	Requests    RequestStore
	History     HistoryReader
	Directory   Directory
	Delegations DelegationStore
	Records     RecordSource
	Catalog     *ActionCatalog
	Locker      Locker
	Notifier    Notifier
	Metrics     *Metrics
	Now         func() time.Time
	Log         *logger.Logger
}

// ApprovalEngine advances approval requests through their flow graph. Every
// mutating call holds the request's lock and runs in one store transaction,
// so a failed call leaves the request exactly as it was.
type ApprovalEngine struct {
	flows     FlowStore
	requests  RequestStore
	history   HistoryReader
	catalog   *ActionCatalog
	locker    Locker
	notifier  Notifier
	metrics   *Metrics
	evaluator *ConditionEvaluator
	resolver  *ApproverResolver
	states    *RequestStateMachine
	now       func() time.Time
	log       *logger.Logger
}

// NewApprovalEngine creates a new ApprovalEngine.
func NewApprovalEngine(deps Dependencies) *ApprovalEngine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &ApprovalEngine{
		flows:     deps.Flows,
		requests:  deps.Requests,
		history:   deps.History,
		catalog:   deps.Catalog,
		locker:    deps.Locker,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		evaluator: NewConditionEvaluator(deps.Directory, deps.Records, log),
		resolver:  NewApproverResolver(deps.Directory, deps.Delegations, now, log),
		states:    NewRequestStateMachine(),
		now:       now,
		log:       log,
	}
}

// ActionInput is one human decision on a request.
type ActionInput struct {
	RequestID  string
	ActionCode string
	UserID     string
	Comment    string
}

// SubmitInput starts a request for a record.
type SubmitInput struct {
	FlowID         string
	ResModel       string
	ResID          string
	ModuleName     string
	RequestedBy    string
	RequestedForID string
	BranchID       string
	Remarks        string
}

// ── Submit ───────────────────────────────────────────────────────────────────

// Submit creates a request at the flow's initiator step and advances it past
// the initiator in the same unit of work. A record can have only one pending
// request at a time.
func (e *ApprovalEngine) Submit(ctx context.Context, in SubmitInput) (req *repository.Request, err error) {
	start := e.now()
	defer func() { e.metrics.observe("submit", repository.ActionAutoInitiate, err, start) }()

	switch {
	case in.FlowID == "":
		return nil, errors.InvalidInput("flow_id", "flow_id is required")
	case in.ResModel == "" || in.ResID == "":
		return nil, errors.InvalidInput("res_id", "res_model and res_id are required")
	case in.RequestedBy == "":
		return nil, errors.InvalidInput("requested_by", "requested_by is required")
	}

	flow, err := e.flows.GetFlow(ctx, in.FlowID)
	if err != nil {
		return nil, err
	}
	if !flow.Active {
		return nil, errors.Conflict("approval flow %s is archived", flow.ID)
	}
	if flow.ResModel != in.ResModel {
		return nil, errors.InvalidInput("res_model",
			fmt.Sprintf("flow %s is bound to %s, not %s", flow.ID, flow.ResModel, in.ResModel))
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}

	release, err := e.locker.Acquire(ctx, recordLockKey(in.ResModel, in.ResID))
	if err != nil {
		return nil, err
	}
	defer release()

	var t *transition
	err = e.requests.RunInTx(ctx, func(ctx context.Context, tx repository.RequestTx) error {
		existing, err := tx.FindPendingByRecord(ctx, in.ResModel, in.ResID)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.Conflict("%s #%s already has a pending approval request %s", in.ResModel, in.ResID, existing.ID).
				WithDetail("request_id", existing.ID)
		}

		created := &repository.Request{
			FlowID:         flow.ID,
			ResModel:       in.ResModel,
			ResID:          in.ResID,
			ModuleName:     in.ModuleName,
			CurrentStepID:  flow.Initiator().ID,
			Status:         repository.StatusPending,
			Approvers:      []string{in.RequestedBy},
			RequestedBy:    in.RequestedBy,
			RequestedForID: in.RequestedForID,
			BranchID:       in.BranchID,
			Remarks:        in.Remarks,
			Cycle:          1,
		}
		if err := tx.CreateRequest(ctx, created); err != nil {
			return err
		}

		t = e.newTransition(tx, flow, created, in.RequestedBy, "")
		if err := t.autoAdvanceInitiator(ctx); err != nil {
			return err
		}
		return tx.SaveRequest(ctx, t.req)
	})
	if err != nil {
		e.log.Warn().Err(err).
			Str("flow_id", in.FlowID).
			Str("res_model", in.ResModel).
			Str("res_id", in.ResID).
			Msg("Approval request submission failed")
		return nil, err
	}

	e.log.Info().
		Str("request_id", t.req.ID).
		Str("flow_id", flow.ID).
		Str("current_step_id", t.req.CurrentStepID).
		Str("status", string(t.req.Status)).
		Msg("Approval request submitted")

	e.dispatch(ctx, t)
	return t.req.Clone(), nil
}

// ── Process action ───────────────────────────────────────────────────────────

// ProcessAction applies one decision to a request. When the request sits on
// its initiator step the step is advanced automatically instead and the
// requested action is not applied.
func (e *ApprovalEngine) ProcessAction(ctx context.Context, in ActionInput) (req *repository.Request, err error) {
	start := e.now()
	defer func() { e.metrics.observe("process_action", in.ActionCode, err, start) }()

	switch {
	case in.RequestID == "":
		return nil, errors.InvalidInput("request_id", "request_id is required")
	case in.ActionCode == "":
		return nil, errors.InvalidInput("action", "action type is not provided")
	case in.UserID == "":
		return nil, errors.InvalidInput("user_id", "acting user is required")
	}

	release, err := e.locker.Acquire(ctx, requestLockKey(in.RequestID))
	if err != nil {
		return nil, err
	}
	defer release()

	var t *transition
	err = e.requests.RunInTx(ctx, func(ctx context.Context, tx repository.RequestTx) error {
		locked, err := tx.LockRequest(ctx, in.RequestID)
		if err != nil {
			return err
		}
		flow, err := e.flows.GetFlow(ctx, locked.FlowID)
		if err != nil {
			return err
		}

		t = e.newTransition(tx, flow, locked, in.UserID, in.Comment)
		if step := flow.Step(locked.CurrentStepID); step != nil && step.IsInitiator {
			if err := t.resubmit(ctx); err != nil {
				return err
			}
		} else if err := t.apply(ctx, in.ActionCode); err != nil {
			return err
		}
		return tx.SaveRequest(ctx, t.req)
	})
	if err != nil {
		e.log.Warn().Err(err).
			Str("request_id", in.RequestID).
			Str("action", in.ActionCode).
			Str("user_id", in.UserID).
			Msg("Approval action rejected")
		return nil, err
	}

	e.log.Info().
		Str("request_id", t.req.ID).
		Str("action", in.ActionCode).
		Str("user_id", in.UserID).
		Str("current_step_id", t.req.CurrentStepID).
		Str("status", string(t.req.Status)).
		Msg("Approval action processed")

	e.dispatch(ctx, t)
	return t.req.Clone(), nil
}

// ── Approve all ──────────────────────────────────────────────────────────────

// ApproveAllResult summarizes a bulk approval.
type ApproveAllResult struct {
	FullyApproved int               `json:"fully_approved"`
	MovedNext     int               `json:"moved_next"`
	Skipped       int               `json:"skipped"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// Message renders the summary the way it is shown to users.
func (r *ApproveAllResult) Message() string {
	var msg string
	if r.FullyApproved > 0 {
		msg += fmt.Sprintf("%d requests fully approved.\n", r.FullyApproved)
	}
	if r.MovedNext > 0 {
		msg += fmt.Sprintf("%d requests moved to next step.\n", r.MovedNext)
	}
	if r.Skipped > 0 {
		msg += fmt.Sprintf("%d requests skipped.\n", r.Skipped)
	}
	if msg == "" {
		return "No requests were processed."
	}
	return msg[:len(msg)-1]
}

// ApproveAll approves each request on behalf of one user. Every request is
// its own unit of work; a failure skips that request only.
func (e *ApprovalEngine) ApproveAll(ctx context.Context, userID string, requestIDs []string, comment string) (*ApproveAllResult, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "acting user is required")
	}

	result := &ApproveAllResult{}
	for _, id := range requestIDs {
		current, err := e.requests.GetRequest(ctx, id)
		if err != nil || current.Status != repository.StatusPending {
			result.Skipped++
			continue
		}

		updated, err := e.ProcessAction(ctx, ActionInput{
			RequestID:  id,
			ActionCode: repository.ActionApprove,
			UserID:     userID,
			Comment:    comment,
		})
		switch {
		case err != nil:
			result.Skipped++
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			result.Errors[id] = err.Error()
		case updated.Status == repository.StatusApproved:
			result.FullyApproved++
		case updated.Status == repository.StatusPending:
			result.MovedNext++
		default:
			result.Skipped++
		}
	}
	return result, nil
}

// ── Query helpers ────────────────────────────────────────────────────────────

// GetRequest returns a request by ID.
func (e *ApprovalEngine) GetRequest(ctx context.Context, id string) (*repository.Request, error) {
	return e.requests.GetRequest(ctx, id)
}

// GetHistory returns a request's transitions oldest-first.
func (e *ApprovalEngine) GetHistory(ctx context.Context, requestID string) ([]*repository.HistoryEntry, error) {
	if _, err := e.requests.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return e.history.ListHistory(ctx, requestID)
}

// PendingFor returns the pending requests a user may act on.
func (e *ApprovalEngine) PendingFor(ctx context.Context, userID string) ([]*repository.Request, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "user_id is required")
	}
	return e.requests.ListPendingForUser(ctx, userID)
}

// Summary returns request counts by record model and status.
func (e *ApprovalEngine) Summary(ctx context.Context) ([]repository.StatusCount, error) {
	return e.requests.CountByStatus(ctx)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

func (e *ApprovalEngine) newTransition(tx repository.RequestTx, flow *repository.Flow, req *repository.Request, actor, comment string) *transition {
	return &transition{e: e, tx: tx, flow: flow, req: req, actor: actor, comment: comment}
}

// dispatch delivers the notifications collected by a committed transition.
// Failures are logged and counted, never returned.
func (e *ApprovalEngine) dispatch(ctx context.Context, t *transition) {
	if e.notifier == nil || len(t.notifications) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, n := range t.notifications {
		if err := e.notifier.NotifyApprover(ctx, t.req.ID, n.userID, n.message); err != nil {
			e.metrics.notificationFailed()
			e.log.Warn().Err(err).
				Str("request_id", t.req.ID).
				Str("user_id", n.userID).
				Msg("Failed to notify approver")
		}
	}
}

func requestLockKey(id string) string {
	return "approval-request:" + id
}

func recordLockKey(model, id string) string {
	return "approval-record:" + model + ":" + id
}
