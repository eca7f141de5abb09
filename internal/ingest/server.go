// Package ingest принимает события от исполнителей планов из других процессов
// по gRPC и кладет их в локальный коллектор.
package ingest

import (
	"context"
	"errors"

	"github.com/xela07ax/aurora-telemetry/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "aurora.telemetry.v1.Collector"
	EnqueueMethod = "/" + ServiceName + "/Enqueue"
)

// Enqueuer: локальный коллектор
type Enqueuer interface {
	Enqueue(e domain.Event) error
}

// CollectorServer: контракт сервиса; payload — google.protobuf.Struct
type CollectorServer interface {
	Enqueue(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

type Server struct {
	col    Enqueuer
	logger *zap.Logger
}

func NewServer(col Enqueuer, logger *zap.Logger) *Server {
	return &Server{col: col, logger: logger.Named("ingest")}
}

func (s *Server) Enqueue(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	ev, err := EventFromStruct(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad event: %v", err)
	}
	if err := s.col.Enqueue(ev); err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Register вешает сервис на gRPC сервер
func Register(gs *grpc.Server, srv CollectorServer) {
	gs.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enqueue", Handler: enqueueHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "aurora/telemetry/v1/collector.proto",
}

func enqueueHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).Enqueue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: EnqueueMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CollectorServer).Enqueue(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
