package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
)

func TestDelegationService_Create(t *testing.T) {
	store := memory.New(memory.WithClock(fixedClock))
	svc := NewDelegationService(store, fixedClock, nil)
	ctx := context.Background()

	d, err := svc.Create(ctx, CreateDelegationRequest{
		OriginalUserID: "alice",
		DelegateUserID: "bob",
		StartDate:      testNow.Add(3 * time.Hour),
		EndDate:        testNow.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.True(t, d.Active)
	assert.Equal(t, repository.DateOf(testNow), d.StartDate)

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].DelegateUserID)

	delegates, err := store.ActiveDelegatesFor(ctx, []string{"alice"}, testNow.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, delegates)

	require.NoError(t, svc.Deactivate(ctx, d.ID))
	delegates, err = store.ActiveDelegatesFor(ctx, []string{"alice"}, testNow)
	require.NoError(t, err)
	assert.Empty(t, delegates)
}

func TestDelegationService_Validation(t *testing.T) {
	svc := NewDelegationService(memory.New(), fixedClock, nil)

	tests := []struct {
		name string
		in   CreateDelegationRequest
	}{
		{"missing original", CreateDelegationRequest{DelegateUserID: "b", StartDate: testNow, EndDate: testNow}},
		{"missing delegate", CreateDelegationRequest{OriginalUserID: "a", StartDate: testNow, EndDate: testNow}},
		{"self delegation", CreateDelegationRequest{OriginalUserID: "a", DelegateUserID: "a", StartDate: testNow, EndDate: testNow}},
		{"missing dates", CreateDelegationRequest{OriginalUserID: "a", DelegateUserID: "b"}},
		{"end before start", CreateDelegationRequest{OriginalUserID: "a", DelegateUserID: "b", StartDate: testNow, EndDate: testNow.AddDate(0, 0, -1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
		})
	}

	err := svc.Deactivate(context.Background(), "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	_, err = svc.List(context.Background(), "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}
