package service

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
)

type failingActionSource struct{}

func (failingActionSource) ListActions(context.Context) ([]*repository.Action, error) {
	return nil, stderrors.New("connection refused")
}

func TestActionCatalog_Lookup(t *testing.T) {
	catalog, err := LoadActionCatalog(context.Background(), memory.New())
	require.NoError(t, err)
	assert.Empty(t, catalog.Missing())

	a, err := catalog.Lookup(repository.ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, repository.ActionApprove, a.Code)

	_, err = catalog.Lookup("escalate")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestActionCatalog_RequireMissing(t *testing.T) {
	catalog := NewActionCatalog([]*repository.Action{
		{ID: "1", Code: repository.ActionApprove},
		{ID: "2", Code: repository.ActionReject},
	})

	_, err := catalog.Require(repository.ActionAutoCondition)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfiguration))
	assert.Equal(t, []string{
		repository.ActionAmend, repository.ActionToEmployee, repository.ActionRevert,
		repository.ActionAutoInitiate, repository.ActionAutoCondition,
	}, catalog.Missing())
}

func TestLoadActionCatalog_SourceFailure(t *testing.T) {
	_, err := LoadActionCatalog(context.Background(), failingActionSource{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
}
