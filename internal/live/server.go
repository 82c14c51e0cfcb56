package live

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "quant.live.MarketData"
	snapshotMethod = "/" + serviceName + "/Snapshot"
	streamMethod   = "/" + serviceName + "/StreamTicks"

	streamBuffer = 4096
)

// MarketDataServer is the server API of the market-data service. Requests
// carry an optional "symbols" list; bars are encoded by barToStruct.
type MarketDataServer interface {
	Snapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamTicks(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MarketDataServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamTicks", Handler: streamTicksHandler, ServerStreams: true},
	},
	Metadata: "quant/live",
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MarketDataServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: snapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MarketDataServer).Snapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamTicksHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MarketDataServer).StreamTicks(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Server implements MarketDataServer over a Model.
type Server struct {
	model *Model
	log   *slog.Logger
}

// NewServer creates a gRPC server backed by the given Model.
func NewServer(model *Model, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{model: model, log: log.With("component", "grpc")}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Snapshot returns {"bars": [...]} with the latest bar per requested symbol.
func (s *Server) Snapshot(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	bars := s.model.Snapshot(requestedSymbols(req)...)
	vals := make([]*structpb.Value, 0, len(bars))
	for _, b := range bars {
		vals = append(vals, structpb.NewStructValue(barToStruct(b)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"bars": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}, nil
}

// StreamTicks sends a snapshot of the latest bars, then streams new bars as
// they arrive. The stream ends when the client disconnects. Subscribing
// before the snapshot can repeat a bar; clients drop it as stale.
func (s *Server) StreamTicks(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	symbols := requestedSymbols(req)
	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		want[sym] = true
	}

	subID, ch := s.model.Subscribe(streamBuffer)
	defer s.model.Unsubscribe(subID)

	for _, b := range s.model.Snapshot(symbols...) {
		if err := stream.Send(barToStruct(b)); err != nil {
			return err
		}
	}
	s.log.Info("grpc client subscribed", "subID", subID, "symbols", symbols)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc client disconnected", "subID", subID)
			return nil
		case b, ok := <-ch:
			if !ok {
				return nil
			}
			if len(want) > 0 && !want[b.Symbol] {
				continue
			}
			if err := stream.Send(barToStruct(b)); err != nil {
				return err
			}
		}
	}
}
