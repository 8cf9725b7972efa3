package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// DelegationService manages temporary hand-over of approval authority.
type DelegationService struct {
	store DelegationStore
	now   func() time.Time
	log   *logger.Logger
}

// NewDelegationService creates a new DelegationService.
func NewDelegationService(store DelegationStore, now func() time.Time, log *logger.Logger) *DelegationService {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DelegationService{store: store, now: now, log: log}
}

// CreateDelegationRequest is the input of Create.
type CreateDelegationRequest struct {
	OriginalUserID string    `json:"original_user_id"`
	DelegateUserID string    `json:"delegate_user_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

// Create stores an active delegation. Dates are inclusive calendar days.
func (s *DelegationService) Create(ctx context.Context, in CreateDelegationRequest) (*repository.Delegation, error) {
	switch {
	case in.OriginalUserID == "":
		return nil, errors.InvalidInput("original_user_id", "original user is required")
	case in.DelegateUserID == "":
		return nil, errors.InvalidInput("delegate_user_id", "delegate user is required")
	case in.OriginalUserID == in.DelegateUserID:
		return nil, errors.InvalidInput("delegate_user_id", "a user cannot delegate to themselves")
	case in.StartDate.IsZero() || in.EndDate.IsZero():
		return nil, errors.InvalidInput("start_date", "start and end dates are required")
	}

	d := &repository.Delegation{
		OriginalUserID: in.OriginalUserID,
		DelegateUserID: in.DelegateUserID,
		StartDate:      repository.DateOf(in.StartDate),
		EndDate:        repository.DateOf(in.EndDate),
		Active:         true,
	}
	if d.EndDate.Before(d.StartDate) {
		return nil, errors.InvalidInput("end_date", "end date must be on or after start date")
	}

	if err := s.store.CreateDelegation(ctx, d); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("delegation_id", d.ID).
		Str("original_user_id", d.OriginalUserID).
		Str("delegate_user_id", d.DelegateUserID).
		Msg("Delegation created")
	return d, nil
}

// Deactivate switches a delegation off. Requests already routed keep their
// approver sets.
func (s *DelegationService) Deactivate(ctx context.Context, id string) error {
	if id == "" {
		return errors.InvalidInput("id", "delegation id is required")
	}
	if err := s.store.DeactivateDelegation(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("delegation_id", id).Msg("Delegation deactivated")
	return nil
}

// List returns the delegations granted by a user.
func (s *DelegationService) List(ctx context.Context, originalUserID string) ([]*repository.Delegation, error) {
	if originalUserID == "" {
		return nil, errors.InvalidInput("original_user_id", "original user is required")
	}
	return s.store.ListDelegations(ctx, originalUserID)
}
