package client

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

const approvalEngineService = "/pesio.platform.approvals.v1.ApprovalEngine/"

// ApprovalsGRPCClient calls the approval engine over gRPC. Messages are
// google.protobuf.Struct values carrying the JSON form of the engine types.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// SubmitRequest is the payload of Submit.
type SubmitRequest struct {
	FlowID         string `json:"flow_id"`
	ResModel       string `json:"res_model"`
	ResID          string `json:"res_id"`
	ModuleName     string `json:"module_name,omitempty"`
	RequestedForID string `json:"requested_for_id,omitempty"`
	BranchID       string `json:"branch_id,omitempty"`
	Remarks        string `json:"remarks,omitempty"`
}

// ActionRequest is the payload of ProcessAction.
type ActionRequest struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	Comment   string `json:"comment,omitempty"`
}

// Submit starts an approval request. The requester is the user set with
// WithUserID.
func (c *ApprovalsGRPCClient) Submit(ctx context.Context, in SubmitRequest) (*repository.Request, error) {
	var out repository.Request
	if err := c.call(ctx, "Submit", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessAction applies a decision as the user set with WithUserID.
func (c *ApprovalsGRPCClient) ProcessAction(ctx context.Context, in ActionRequest) (*repository.Request, error) {
	var out repository.Request
	if err := c.call(ctx, "ProcessAction", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRequest returns a request by ID.
func (c *ApprovalsGRPCClient) GetRequest(ctx context.Context, id string) (*repository.Request, error) {
	var out repository.Request
	if err := c.call(ctx, "GetRequest", map[string]string{"id": id}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHistory returns a request's history oldest-first.
func (c *ApprovalsGRPCClient) GetHistory(ctx context.Context, requestID string) ([]*repository.HistoryEntry, error) {
	var out struct {
		Entries []*repository.HistoryEntry `json:"entries"`
	}
	if err := c.call(ctx, "GetHistory", map[string]string{"request_id": requestID}, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *ApprovalsGRPCClient) call(ctx context.Context, method string, in, out interface{}) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, approvalEngineService+method, req, resp); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, out interface{}) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
