package service

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// FlowService registers and archives flow definitions.
type FlowService struct {
	flows   FlowStore
	catalog *ActionCatalog
	log     *logger.Logger
}

// NewFlowService creates a new FlowService.
func NewFlowService(flows FlowStore, catalog *ActionCatalog, log *logger.Logger) *FlowService {
	if log == nil {
		log = logger.Nop()
	}
	return &FlowService{flows: flows, catalog: catalog, log: log}
}

// Register validates and stores a new, active flow.
func (s *FlowService) Register(ctx context.Context, flow *repository.Flow) (*repository.Flow, error) {
	if flow == nil {
		return nil, errors.InvalidInput("flow", "flow is required")
	}
	if flow.Name == "" {
		return nil, errors.InvalidInput("name", "flow name is required")
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	for _, step := range flow.Steps {
		for _, a := range step.Actions {
			if _, err := s.catalog.Lookup(a.ActionCode); err != nil {
				return nil, errors.InvalidInput("actions",
					"step '"+step.Name+"' maps unknown action '"+a.ActionCode+"'")
			}
		}
	}

	flow.Active = true
	if err := s.flows.SaveFlow(ctx, flow); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("flow_id", flow.ID).
		Str("res_model", flow.ResModel).
		Int("steps", len(flow.Steps)).
		Msg("Approval flow registered")
	return flow, nil
}

// Get returns a flow by ID.
func (s *FlowService) Get(ctx context.Context, id string) (*repository.Flow, error) {
	return s.flows.GetFlow(ctx, id)
}

// List returns the active flows of a record model, or all when empty.
func (s *FlowService) List(ctx context.Context, resModel string) ([]*repository.Flow, error) {
	return s.flows.ListFlows(ctx, resModel)
}

// Archive deactivates a flow. Pending requests keep running on it.
func (s *FlowService) Archive(ctx context.Context, id string) error {
	if err := s.flows.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.log.Info().Str("flow_id", id).Msg("Approval flow archived")
	return nil
}
