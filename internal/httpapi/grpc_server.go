package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"authcore.org/internal/auth"
	"authcore.org/internal/obs"
	"authcore.org/internal/usecase"
)

// CheckMethod is the full gRPC method name of the capability check.
const CheckMethod = "/authcore.v1.Authorization/Check"

// AuthorizationServer answers capability checks for other services. Requests
// and responses are google.protobuf.Struct values with the same fields as
// POST /intra/authorization.
type AuthorizationServer interface {
	Check(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// GRPCServer implements AuthorizationServer over the use-case service.
type GRPCServer struct {
	svc *usecase.Service
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(svc *usecase.Service) *GRPCServer {
	return &GRPCServer{svc: svc}
}

// Check decodes {access_token, permissions, groups} and returns {user_id, session_id}.
func (s *GRPCServer) Check(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	in := usecase.CapabilityInput{
		AccessToken: fields["access_token"].GetStringValue(),
		Permissions: stringList(fields["permissions"]),
		Groups:      stringList(fields["groups"]),
	}
	out, err := s.svc.CheckCapability(ctx, in)
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{
		"user_id":    out.UserID,
		"session_id": out.SessionID,
	})
}

func stringList(v *structpb.Value) []string {
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, item := range values {
		out = append(out, item.GetStringValue())
	}
	return out
}

func grpcError(err error) error {
	var e *auth.Error
	if !errors.As(err, &e) {
		obs.Component("httpapi", "grpc").WithError(err).WithFields(logrus.Fields{"event": "check_failed"}).Error("internal error")
		return status.Error(codes.Internal, "internal error")
	}
	var code codes.Code
	switch statusOf(e.Kind) {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusUnauthorized:
		code = codes.PermissionDenied
	case http.StatusForbidden:
		code = codes.Unauthenticated
	case http.StatusNotFound:
		code = codes.NotFound
	default:
		code = codes.Internal
	}
	return status.Error(code, e.Error())
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthorizationServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthorizationServer).Check(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var authorizationServiceDesc = grpc.ServiceDesc{
	ServiceName: "authcore.v1.Authorization",
	HandlerType: (*AuthorizationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: checkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authcore/v1/authorization.proto",
}

// RegisterGRPC registers the authorization service and the standard health service.
func RegisterGRPC(server *grpc.Server, srv AuthorizationServer) *health.Server {
	server.RegisterService(&authorizationServiceDesc, srv)
	hs := health.NewServer()
	hs.SetServingStatus(authorizationServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return hs
}
