// Package memory is an in-process implementation of every store the engine
// consumes. It backs the "memory" store driver and the engine tests.
//
// Transactions are copy-on-write: writes are staged on the transaction and
// applied atomically on commit. LockRequest takes a per-request row lock that
// is held until the transaction ends, mirroring SELECT ... FOR UPDATE.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Store holds flows, requests, history, delegations, the directory
// projection and target record snapshots.
type Store struct {
	mu          sync.RWMutex
	flows       map[string]*repository.Flow
	requests    map[string]*repository.Request
	history     map[string][]*repository.HistoryEntry
	delegations map[string]*repository.Delegation
	actions     []*repository.Action

	users      map[string]*repository.User
	jobs       map[string]*repository.Job
	employees  map[string]*repository.Employee
	groups     map[string]map[string]bool
	userGroups map[string]map[string]bool
	records    map[string]*repository.TargetRecord

	rowLocksMu sync.Mutex
	rowLocks   map[string]*sync.Mutex
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithActions replaces the default action catalog.
func WithActions(actions ...*repository.Action) Option {
	return func(s *Store) { s.actions = actions }
}

// New creates an empty store seeded with the default action catalog.
func New(options ...Option) *Store {
	s := &Store{
		flows:       make(map[string]*repository.Flow),
		requests:    make(map[string]*repository.Request),
		history:     make(map[string][]*repository.HistoryEntry),
		delegations: make(map[string]*repository.Delegation),
		users:       make(map[string]*repository.User),
		jobs:        make(map[string]*repository.Job),
		employees:   make(map[string]*repository.Employee),
		groups:      make(map[string]map[string]bool),
		userGroups:  make(map[string]map[string]bool),
		records:     make(map[string]*repository.TargetRecord),
		rowLocks:    make(map[string]*sync.Mutex),
		now:         time.Now,
	}
	for _, code := range repository.RequiredActionCodes {
		s.actions = append(s.actions, &repository.Action{ID: "act-" + code, Code: code, Name: code})
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func newID() string { return uuid.NewString() }

// ── Flows ────────────────────────────────────────────────────────────────────

// SaveFlow stores a flow definition. Missing IDs are generated. The flow must
// not be mutated by the caller afterwards.
func (s *Store) SaveFlow(_ context.Context, flow *repository.Flow) error {
	if flow == nil {
		return errors.InvalidInput("flow", "flow is required")
	}
	if flow.ID == "" {
		flow.ID = newID()
	}
	now := s.now()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}
	flow.UpdatedAt = now
	for _, step := range flow.Steps {
		step.FlowID = flow.ID
		for i := range step.Actions {
			if step.Actions[i].ID == "" {
				step.Actions[i].ID = newID()
			}
		}
		for _, c := range step.Conditions {
			c.StepID = step.ID
			if c.ID == "" {
				c.ID = newID()
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = flow
	return nil
}

// GetFlow returns a flow by ID. The flow is shared and must not be mutated.
func (s *Store) GetFlow(_ context.Context, id string) (*repository.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, errors.NotFound("approval_flow", id)
	}
	return f, nil
}

// ListFlows returns active flows for a model, or all active flows when
// resModel is empty.
func (s *Store) ListFlows(_ context.Context, resModel string) ([]*repository.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*repository.Flow
	for _, f := range s.flows {
		if f.Active && (resModel == "" || f.ResModel == resModel) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetActive archives or restores a flow. Stored flows are shared with
// readers, so the change is applied to a copy that replaces the original.
func (s *Store) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return errors.NotFound("approval_flow", id)
	}
	updated := *f
	updated.Active = active
	updated.UpdatedAt = s.now()
	s.flows[id] = &updated
	return nil
}

// ListActions returns the action catalog.
func (s *Store) ListActions(_ context.Context) ([]*repository.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*repository.Action, len(s.actions))
	copy(out, s.actions)
	return out, nil
}

// ── Requests ─────────────────────────────────────────────────────────────────

// GetRequest returns a copy of a committed request.
func (s *Store) GetRequest(_ context.Context, id string) (*repository.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, errors.NotFound("approval_request", id)
	}
	return r.Clone(), nil
}

// ListPendingForUser returns pending requests the user may act on.
func (s *Store) ListPendingForUser(_ context.Context, userID string) ([]*repository.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*repository.Request
	for _, r := range s.requests {
		if r.Status == repository.StatusPending && r.IsApprover(userID) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CountByStatus groups request counts by record model and status.
func (s *Store) CountByStatus(_ context.Context) ([]repository.StatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type key struct {
		model  string
		status repository.RequestStatus
	}
	counts := make(map[key]int)
	for _, r := range s.requests {
		counts[key{r.ResModel, r.Status}]++
	}
	out := make([]repository.StatusCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, repository.StatusCount{ResModel: k.model, Status: k.status, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResModel != out[j].ResModel {
			return out[i].ResModel < out[j].ResModel
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// ListHistory returns a request's history oldest-first.
func (s *Store) ListHistory(_ context.Context, requestID string) ([]*repository.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[requestID]
	out := make([]*repository.HistoryEntry, len(entries))
	for i, e := range entries {
		c := *e
		out[i] = &c
	}
	return out, nil
}
