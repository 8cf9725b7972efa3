package handler

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-plt-approvals/internal/common/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/common/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pesio.platform.approvals.v1.ApprovalEngine"

// UserIDMetadataKey names the acting user in gRPC metadata.
const UserIDMetadataKey = "x-user-id"

// approvalEngineServer is the server contract. Requests and responses are
// google.protobuf.Struct values holding the JSON form of the engine types.
type approvalEngineServer interface {
	Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ProcessAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var approvalEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*approvalEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", approvalEngineServer.Submit)},
		{MethodName: "ProcessAction", Handler: unaryHandler("ProcessAction", approvalEngineServer.ProcessAction)},
		{MethodName: "GetRequest", Handler: unaryHandler("GetRequest", approvalEngineServer.GetRequest)},
		{MethodName: "GetHistory", Handler: unaryHandler("GetHistory", approvalEngineServer.GetHistory)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler(method string, call func(approvalEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(approvalEngineServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(server, ctx, req.(*structpb.Struct))
		})
	}
}

// GRPCHandler implements the ApprovalEngine gRPC service
type GRPCHandler struct {
	engine *service.ApprovalEngine
	log    *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(engine *service.ApprovalEngine, log *logger.Logger) *GRPCHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GRPCHandler{engine: engine, log: log.Component("grpc")}
}

// Register adds the service to a gRPC server.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&approvalEngineServiceDesc, h)
}

// Submit starts an approval request for the calling user.
func (h *GRPCHandler) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	var req submitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	created, err := h.engine.Submit(ctx, service.SubmitInput{
		FlowID:         req.FlowID,
		ResModel:       req.ResModel,
		ResID:          req.ResID,
		ModuleName:     req.ModuleName,
		RequestedBy:    actor,
		RequestedForID: req.RequestedForID,
		BranchID:       req.BranchID,
		Remarks:        req.Remarks,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(created)
}

// ProcessAction applies a decision as the calling user.
func (h *GRPCHandler) ProcessAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	var req actionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	updated, err := h.engine.ProcessAction(ctx, service.ActionInput{
		RequestID:  req.RequestID,
		ActionCode: req.Action,
		UserID:     actor,
		Comment:    req.Comment,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(updated)
}

// GetRequest returns a request by ID.
func (h *GRPCHandler) GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	req, err := h.engine.GetRequest(ctx, id)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(req)
}

// GetHistory returns a request's history oldest-first.
func (h *GRPCHandler) GetHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "request_id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}
	entries, err := h.engine.GetHistory(ctx, id)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]interface{}{"entries": entries})
}

// UnaryLogger logs every unary call and converts panics into Internal errors.
func UnaryLogger(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("method", info.FullMethod).Msg("gRPC handler panicked")
				err = status.Error(codes.Internal, "internal server error")
			}
			log.Info().
				Str("method", info.FullMethod).
				Str("code", status.Code(err).String()).
				Dur("duration", time.Since(start)).
				Msg("gRPC request")
		}()
		return handler(ctx, req)
	}
}

// ── Internal helpers ─────────────────────────────────────────────────────────

// userID extracts the acting user from incoming metadata.
func userID(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(UserIDMetadataKey); len(v) > 0 && v[0] != "" {
			return v[0], nil
		}
	}
	return "", status.Error(codes.Unauthenticated, "x-user-id metadata is required")
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	var e *errors.Error
	if errors.As(err, &e) {
		msg = e.Message
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, msg)
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, msg)
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case errors.ErrCodeConflict:
		return status.Error(codes.Aborted, msg)
	case errors.ErrCodeConfiguration:
		return status.Error(codes.FailedPrecondition, msg)
	case errors.ErrCodeUnavailable:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, msg)
	}
}

func stringField(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, dst interface{}) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return status.Error(codes.InvalidArgument, "invalid request body")
	}
	return nil
}
