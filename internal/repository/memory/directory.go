package memory

import (
	"context"
	"sort"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ── Directory seeding ────────────────────────────────────────────────────────

// PutUser adds or replaces a directory user.
func (s *Store) PutUser(u *repository.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *u
	s.users[u.ID] = &c
}

// PutJob adds or replaces a job.
func (s *Store) PutJob(j *repository.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *j
	s.jobs[j.ID] = &c
}

// PutEmployee adds or replaces an employee.
func (s *Store) PutEmployee(e *repository.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.employees[e.ID] = &c
}

// AddGroupMember puts a user in a group. Roles are groups.
func (s *Store) AddGroupMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[groupID] == nil {
		s.groups[groupID] = make(map[string]bool)
	}
	if s.userGroups[userID] == nil {
		s.userGroups[userID] = make(map[string]bool)
	}
	s.groups[groupID][userID] = true
	s.userGroups[userID][groupID] = true
}

// ── Directory reads ──────────────────────────────────────────────────────────

// EmployeeForUser returns the employee record of a user, or nil.
func (s *Store) EmployeeForUser(_ context.Context, userID string) (*repository.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *repository.Employee
	for _, e := range s.employees {
		if e.UserID == userID && (found == nil || e.ID < found.ID) {
			found = e
		}
	}
	if found == nil {
		return nil, nil
	}
	c := *found
	return &c, nil
}

// EmployeesByJob returns the employees holding a job ordered by ID.
func (s *Store) EmployeesByJob(_ context.Context, jobID string) ([]*repository.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*repository.Employee
	for _, e := range s.employees {
		if e.JobID == jobID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// JobHierarchy returns the employee's job and its ancestors, leaf to root.
// A parent cycle stops the walk at the first repeated job.
func (s *Store) JobHierarchy(_ context.Context, employeeID string) ([]*repository.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[employeeID]
	if !ok {
		return nil, errors.NotFound("employee", employeeID)
	}
	var out []*repository.Job
	seen := make(map[string]bool)
	for id := e.JobID; id != "" && !seen[id]; {
		j, ok := s.jobs[id]
		if !ok {
			break
		}
		seen[id] = true
		c := *j
		out = append(out, &c)
		id = j.ParentID
	}
	return out, nil
}

// GroupMembership returns the groups of a user ordered by ID.
func (s *Store) GroupMembership(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.userGroups[userID]))
	for g := range s.userGroups[userID] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

// RoleMembers returns the users of a role group ordered by ID. Members
// without a user record are returned with only their ID.
func (s *Store) RoleMembers(_ context.Context, roleID string) ([]*repository.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*repository.User, 0, len(s.groups[roleID]))
	for id := range s.groups[roleID] {
		u, ok := s.users[id]
		if !ok {
			u = &repository.User{ID: id}
		}
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Delegations ──────────────────────────────────────────────────────────────

// CreateDelegation stores a delegation.
func (s *Store) CreateDelegation(_ context.Context, d *repository.Delegation) error {
	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *d
	s.delegations[d.ID] = &c
	return nil
}

// DeactivateDelegation switches a delegation off.
func (s *Store) DeactivateDelegation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delegations[id]
	if !ok {
		return errors.NotFound("delegation", id)
	}
	d.Active = false
	return nil
}

// ListDelegations returns the delegations granted by a user.
func (s *Store) ListDelegations(_ context.Context, originalUserID string) ([]*repository.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*repository.Delegation
	for _, d := range s.delegations {
		if d.OriginalUserID == originalUserID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

// ActiveDelegatesFor returns the delegates of the listed users whose
// delegation covers asOf.
func (s *Store) ActiveDelegatesFor(_ context.Context, userIDs []string, asOf time.Time) ([]string, error) {
	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]bool)
	for _, d := range s.delegations {
		if want[d.OriginalUserID] && d.ActiveOn(asOf) {
			set[d.DelegateUserID] = true
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ── Target records ───────────────────────────────────────────────────────────

func recordKey(model, id string) string { return model + "\x00" + id }

// UpsertRecord stores the latest snapshot of a target record.
func (s *Store) UpsertRecord(_ context.Context, rec *repository.TargetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.records[recordKey(rec.Model, rec.ID)] = &c
	return nil
}

// GetRecord returns a record snapshot, or nil when none exists.
func (s *Store) GetRecord(_ context.Context, model, id string) (*repository.TargetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(model, id)]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}
