package service

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ActionCatalog is the global action lookup table, loaded once at start-up
// and read-only afterwards.
type ActionCatalog struct {
	byCode map[string]*repository.Action
}

// NewActionCatalog indexes the given actions by code.
func NewActionCatalog(actions []*repository.Action) *ActionCatalog {
	c := &ActionCatalog{byCode: make(map[string]*repository.Action, len(actions))}
	for _, a := range actions {
		c.byCode[a.Code] = a
	}
	return c
}

// LoadActionCatalog reads the catalog from its source.
func LoadActionCatalog(ctx context.Context, src ActionSource) (*ActionCatalog, error) {
	actions, err := src.ListActions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load action catalog")
	}
	return NewActionCatalog(actions), nil
}

// Lookup returns the action for a code requested by a user.
func (c *ActionCatalog) Lookup(code string) (*repository.Action, error) {
	a, ok := c.byCode[code]
	if !ok {
		return nil, errors.InvalidInput("action", "no approval action found for code '"+code+"'")
	}
	return a, nil
}

// Require returns an action the engine itself depends on. A missing code is a
// configuration error.
func (c *ActionCatalog) Require(code string) (*repository.Action, error) {
	a, ok := c.byCode[code]
	if !ok {
		return nil, errors.Configuration("global action '%s' is not defined", code)
	}
	return a, nil
}

// Missing lists the required codes absent from the catalog.
func (c *ActionCatalog) Missing() []string {
	var out []string
	for _, code := range repository.RequiredActionCodes {
		if _, ok := c.byCode[code]; !ok {
			out = append(out, code)
		}
	}
	return out
}
