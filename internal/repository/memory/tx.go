package memory

import (
	"context"
	"sync"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// RunInTx runs fn in a copy-on-write transaction. Staged writes are applied
// only when fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.RequestTx) error) error {
	tx := &memTx{
		s:        s,
		locks:    make(map[string]*sync.Mutex),
		requests: make(map[string]*repository.Request),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	s        *Store
	locks    map[string]*sync.Mutex
	requests map[string]*repository.Request
	created  []string
	history  []*repository.HistoryEntry
}

func (s *Store) rowLock(id string) *sync.Mutex {
	s.rowLocksMu.Lock()
	defer s.rowLocksMu.Unlock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[id] = l
	}
	return l
}

func (t *memTx) LockRequest(ctx context.Context, id string) (*repository.Request, error) {
	if staged, ok := t.requests[id]; ok {
		return staged.Clone(), nil
	}
	if _, held := t.locks[id]; !held {
		l := t.s.rowLock(id)
		l.Lock()
		t.locks[id] = l
	}
	return t.s.GetRequest(ctx, id)
}

func (t *memTx) FindPendingByRecord(_ context.Context, resModel, resID string) (*repository.Request, error) {
	for _, r := range t.requests {
		if r.ResModel == resModel && r.ResID == resID && r.Status == repository.StatusPending {
			return r.Clone(), nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for id, r := range t.s.requests {
		if _, staged := t.requests[id]; staged {
			continue
		}
		if r.ResModel == resModel && r.ResID == resID && r.Status == repository.StatusPending {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateRequest(_ context.Context, req *repository.Request) error {
	if req.ID == "" {
		req.ID = newID()
	}
	now := t.s.now()
	req.CreatedAt = now
	req.UpdatedAt = now
	req.Version = 1
	t.requests[req.ID] = req.Clone()
	t.created = append(t.created, req.ID)
	return nil
}

func (t *memTx) SaveRequest(_ context.Context, req *repository.Request) error {
	current, staged := t.requests[req.ID]
	if !staged {
		t.s.mu.RLock()
		committed, ok := t.s.requests[req.ID]
		t.s.mu.RUnlock()
		if !ok {
			return errors.NotFound("approval_request", req.ID)
		}
		current = committed
	}
	if current.Version != req.Version {
		return errors.Conflict("approval request %s was modified concurrently", req.ID)
	}
	req.Version++
	req.UpdatedAt = t.s.now()
	t.requests[req.ID] = req.Clone()
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, entry *repository.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	entry.CreatedAt = t.s.now()
	c := *entry
	t.history = append(t.history, &c)
	return nil
}

func (t *memTx) CountVotes(_ context.Context, requestID, stepID, actionID string, cycle int) (int, error) {
	match := func(e *repository.HistoryEntry) bool {
		return e.RequestID == requestID && e.StepID == stepID && e.ActionID == actionID && e.Cycle == cycle
	}
	n := 0
	for _, e := range t.history {
		if match(e) {
			n++
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, e := range t.s.history[requestID] {
		if match(e) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, id := range t.created {
		if _, exists := t.s.requests[id]; exists {
			return errors.Conflict("approval request %s already exists", id)
		}
	}
	for id, r := range t.requests {
		t.s.requests[id] = r
	}
	for _, e := range t.history {
		t.s.history[e.RequestID] = append(t.s.history[e.RequestID], e)
	}
	return nil
}

func (t *memTx) release() {
	for _, l := range t.locks {
		l.Unlock()
	}
	t.locks = nil
}
