package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/hive-corporation/threatdeck/internal/core/domain"
	"github.com/hive-corporation/threatdeck/internal/core/service"
)

const grpcServiceName = "threatdeck.v1.ThreatIntel"

// ThreatIntelServer is the lookup API exposed over gRPC. Messages are the
// protobuf well-known types so no generated code is needed.
type ThreatIntelServer interface {
	CheckIOC(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	GetStats(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type GrpcServer struct {
	svc    *service.ThreatService
	logger *zap.Logger
}

func NewGrpcServer(svc *service.ThreatService, logger *zap.Logger) *GrpcServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrpcServer{svc: svc, logger: logger}
}

// RegisterThreatIntelServer attaches srv to a grpc.Server.
func RegisterThreatIntelServer(s grpc.ServiceRegistrar, srv ThreatIntelServer) {
	s.RegisterService(&ThreatIntelServiceDesc, srv)
}

func (s *GrpcServer) CheckIOC(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	value := strings.TrimSpace(req.GetValue())
	if value == "" {
		return nil, status.Error(codes.InvalidArgument, "value cannot be empty")
	}

	sightings, err := s.svc.Lookup(ctx, value)
	if err != nil {
		s.logger.Error("❌ error checking IOC", zap.String("value", value), zap.Error(err))
		return nil, status.Error(codes.Internal, "lookup failed")
	}
	return toStruct(buildCheckResult(value, sightings))
}

func (s *GrpcServer) GetStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats, err := s.svc.Stats(ctx)
	if err != nil {
		s.logger.Error("❌ error computing stats", zap.Error(err))
		return nil, status.Error(codes.Internal, "stats unavailable")
	}
	return toStruct(stats)
}

// Search expects {"q": "...", "type": "feeds|iocs|all"}.
func (s *GrpcServer) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	q := fields["q"].GetStringValue()
	scope := domain.SearchScope(fields["type"].GetStringValue())

	result, err := s.svc.Search(ctx, q, scope)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("❌ error searching", zap.Error(err))
		return nil, status.Error(codes.Internal, "search failed")
	}
	return toStruct(result)
}

// toStruct converts through JSON so field names match the REST payloads.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

// FromStruct decodes a response Struct into a typed value.
func FromStruct(s *structpb.Struct, dest any) error {
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

var ThreatIntelServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*ThreatIntelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckIOC", Handler: checkIOCHandler},
		{MethodName: "GetStats", Handler: getStatsHandler},
		{MethodName: "Search", Handler: searchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "threatdeck/v1/threat_intel.proto",
}

func checkIOCHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThreatIntelServer).CheckIOC(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + grpcServiceName + "/CheckIOC"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ThreatIntelServer).CheckIOC(ctx, req.(*wrapperspb.StringValue))
	})
}

func getStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThreatIntelServer).GetStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + grpcServiceName + "/GetStats"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ThreatIntelServer).GetStats(ctx, req.(*emptypb.Empty))
	})
}

func searchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ThreatIntelServer).Search(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + grpcServiceName + "/Search"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ThreatIntelServer).Search(ctx, req.(*structpb.Struct))
	})
}

// ThreatIntelClient calls the lookup API.
type ThreatIntelClient struct {
	cc grpc.ClientConnInterface
}

func NewThreatIntelClient(cc grpc.ClientConnInterface) *ThreatIntelClient {
	return &ThreatIntelClient{cc: cc}
}

func (c *ThreatIntelClient) CheckIOC(ctx context.Context, value string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+grpcServiceName+"/CheckIOC", wrapperspb.String(value), out, opts...)
	return out, err
}

func (c *ThreatIntelClient) GetStats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+grpcServiceName+"/GetStats", &emptypb.Empty{}, out, opts...)
	return out, err
}

func (c *ThreatIntelClient) Search(ctx context.Context, query string, scope domain.SearchScope, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"q": query, "type": string(scope)})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = c.cc.Invoke(ctx, "/"+grpcServiceName+"/Search", in, out, opts...)
	return out, err
}
