package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func newGRPCClient(t *testing.T, f *fixture) *client.ApprovalsGRPCClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(logger.Nop())))
	NewGRPCHandler(f.engine, nil).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := client.NewApprovalsGRPCClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCHandler_RoundTrip(t *testing.T) {
	f := newFixture(t)
	c := newGRPCClient(t, f)

	ctx := client.WithUserID(context.Background(), "requester")
	req, err := c.Submit(ctx, client.SubmitRequest{
		FlowID: f.flow.ID, ResModel: "purchase.order", ResID: "9", BranchID: "hq", Remarks: "urgent",
	})
	require.NoError(t, err)
	assert.Equal(t, "buy", req.CurrentStepID)
	assert.Equal(t, "requester", req.RequestedBy)
	assert.Equal(t, int64(1), req.Version)

	updated, err := c.ProcessAction(client.WithUserID(context.Background(), "buyer"), client.ActionRequest{
		RequestID: req.ID, Action: repository.ActionReject, Comment: "too expensive",
	})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, updated.Status)
	assert.NotNil(t, updated.RejectedAt)

	got, err := c.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, got.Status)

	entries, err := c.GetHistory(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "too expensive", entries[1].Comment)
	assert.Equal(t, "buyer", entries[1].UserID)
}

func TestGRPCHandler_StatusCodes(t *testing.T) {
	f := newFixture(t)
	c := newGRPCClient(t, f)
	ctx := client.WithUserID(context.Background(), "requester")

	req, err := c.Submit(ctx, client.SubmitRequest{FlowID: f.flow.ID, ResModel: "purchase.order", ResID: "9", BranchID: "hq"})
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), client.SubmitRequest{FlowID: f.flow.ID, ResModel: "purchase.order", ResID: "10"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = c.Submit(ctx, client.SubmitRequest{FlowID: f.flow.ID, ResModel: "purchase.order", ResID: "9", BranchID: "hq"})
	assert.Equal(t, codes.Aborted, status.Code(err))

	_, err = c.ProcessAction(client.WithUserID(context.Background(), "stranger"), client.ActionRequest{RequestID: req.ID, Action: "approve"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = c.Submit(ctx, client.SubmitRequest{FlowID: f.flow.ID, ResModel: "purchase.order", ResID: "11", BranchID: "nowhere"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = c.GetRequest(context.Background(), "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.GetHistory(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		err      error
		expected codes.Code
	}{
		{errors.NotFound("approval_request", "x"), codes.NotFound},
		{errors.InvalidInput("action", "bad"), codes.InvalidArgument},
		{errors.New(errors.ErrCodeUnauthorized, "who"), codes.Unauthenticated},
		{errors.Forbidden("no"), codes.PermissionDenied},
		{errors.Conflict("busy"), codes.Aborted},
		{errors.Configuration("broken"), codes.FailedPrecondition},
		{errors.New(errors.ErrCodeUnavailable, "down"), codes.Unavailable},
		{errors.New(errors.ErrCodeInternal, "oops"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			err := mapErrorToGRPC(tt.err)
			assert.Equal(t, tt.expected, status.Code(err))
		})
	}
	assert.NoError(t, mapErrorToGRPC(nil))
}
