package service

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/lock"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type sentNotification struct {
	requestID string
	userID    string
	message   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) NotifyApprover(_ context.Context, requestID, userID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{requestID: requestID, userID: userID, message: message})
	return nil
}

func (n *recordingNotifier) recipients() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.userID
	}
	return out
}

type fixture struct {
	store    *memory.Store
	engine   *ApprovalEngine
	catalog  *ActionCatalog
	notifier *recordingNotifier
	registry *prometheus.Registry
}

// testingT is satisfied by *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

func newFixture(t testingT, options ...memory.Option) *fixture {
	t.Helper()
	store := memory.New(append([]memory.Option{memory.WithClock(fixedClock)}, options...)...)
	catalog, err := LoadActionCatalog(context.Background(), store)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	registry := prometheus.NewRegistry()
	engine := NewApprovalEngine(Dependencies{
		Flows:       store,
		Requests:    store,
		History:     store,
		Directory:   store,
		Delegations: store,
		Records:     store,
		Catalog:     catalog,
		Locker:      lock.NewLocalLocker(),
		Notifier:    notifier,
		Metrics:     NewMetrics(registry),
		Now:         fixedClock,
		Log:         logger.Nop(),
	})
	return &fixture{store: store, engine: engine, catalog: catalog, notifier: notifier, registry: registry}
}

// saveFlow stores a flow directly, skipping registration checks.
func (f *fixture) saveFlow(t testingT, flow *repository.Flow) *repository.Flow {
	t.Helper()
	flow.Active = true
	require.NoError(t, f.store.SaveFlow(context.Background(), flow))
	return flow
}

// member puts a user in a role with a default branch.
func (f *fixture) member(roleID, userID, branchID string) {
	f.store.PutUser(&repository.User{ID: userID, Name: userID, DefaultBranchID: branchID})
	f.store.AddGroupMember(roleID, userID)
}

func (f *fixture) record(t testingT, model, id string, fields map[string]interface{}) {
	t.Helper()
	require.NoError(t, f.store.UpsertRecord(context.Background(), &repository.TargetRecord{Model: model, ID: id, Fields: fields}))
}

func (f *fixture) submit(t testingT, flow *repository.Flow, resID, requester string) *repository.Request {
	t.Helper()
	req, err := f.engine.Submit(context.Background(), SubmitInput{
		FlowID:      flow.ID,
		ResModel:    flow.ResModel,
		ResID:       resID,
		RequestedBy: requester,
		BranchID:    "hq",
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) act(req *repository.Request, code, user string) (*repository.Request, error) {
	return f.engine.ProcessAction(context.Background(), ActionInput{
		RequestID:  req.ID,
		ActionCode: code,
		UserID:     user,
		Comment:    "ok",
	})
}

func (f *fixture) history(t testingT, req *repository.Request) []*repository.HistoryEntry {
	t.Helper()
	entries, err := f.engine.GetHistory(context.Background(), req.ID)
	require.NoError(t, err)
	return entries
}

func historyCodes(entries []*repository.HistoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ActionCode
	}
	return out
}

// ── Flow builders ────────────────────────────────────────────────────────────

const testModel = "purchase.order"

func initiatorStep(id string, seq int, next string) *repository.Step {
	return &repository.Step{ID: id, Name: id, Sequence: seq, IsInitiator: true, NextStepIDs: []string{next}}
}

func finalStep(id string, seq int) *repository.Step {
	return &repository.Step{ID: id, Name: id, Sequence: seq, IsFinal: true}
}

// roleStep is a cross-branch static step mapping approve to approveTo and
// carrying reject, amend and revert.
func roleStep(id string, seq int, roleID, approveTo string) *repository.Step {
	return &repository.Step{
		ID:          id,
		Name:        id,
		Sequence:    seq,
		RoleID:      roleID,
		CrossBranch: true,
		Actions: []repository.StepAction{
			{ActionCode: repository.ActionApprove, NextStepID: approveTo},
			{ActionCode: repository.ActionReject},
			{ActionCode: repository.ActionAmend},
			{ActionCode: repository.ActionRevert},
		},
	}
}

func committeeStep(id string, seq int, roleID string, percent float64, approveTo string) *repository.Step {
	s := roleStep(id, seq, roleID, approveTo)
	s.CommitteeApproval = true
	s.RequiredApprovalPercent = percent
	return s
}

func amountCondition(id string, seq int, op repository.Operator, value, next string) *repository.Condition {
	return &repository.Condition{
		ID:         id,
		Field:      repository.FieldAmountTotal,
		Operator:   op,
		Value:      value,
		NextStepID: next,
		Sequence:   seq,
	}
}

func newFlow(name string, steps ...*repository.Step) *repository.Flow {
	return &repository.Flow{Name: name, ResModel: testModel, RequestType: "purchase", Steps: steps}
}

// metricValue sums a counter family gathered from the fixture registry.
func metricValue(t testingT, f *fixture, name string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
