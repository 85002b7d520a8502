package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
	"github.com/spooky-finn/go-orderbook-live/usecase"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "orderbook.v1.OrderBookViewer"

// Controller is the part of the subscription controller exposed over RPC.
type Controller interface {
	SetPair(ctx context.Context, pair string) error
	Stop()
	Status() usecase.Status
}

type server struct {
	controller        Controller
	storage           *domain.OrderBookStorage
	validationService *ValidationService
	log               *logger.Entry
}

func NewServer(controller Controller, storage *domain.OrderBookStorage, conf *ValidationServiceConfig) *server {
	return &server{
		controller:        controller,
		storage:           storage,
		validationService: NewValidationService(conf),
		log:               logger.GetLogger().WithComponent("rpc"),
	}
}

// Register adds the viewer service to registrar.
func (s *server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&serviceDesc, s)
}

// Serve listens on address until ctx is done.
func (s *server) Serve(ctx context.Context, address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", address, err)
	}

	grpcServer := grpc.NewServer()
	s.Register(grpcServer)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	s.log.WithFields(logger.Fields{"address": lis.Addr().String()}).Info("rpc server listening")
	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// viewerServer is the handler type checked by grpc on registration.
type viewerServer interface {
	GetSnapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetView(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetPair(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchView(*emptypb.Empty, grpc.ServerStream) error
}

func unaryHandler[In any](call func(viewerServer, context.Context, *In) (*structpb.Struct, error), method string) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(In)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(viewerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(viewerServer), ctx, req.(*In))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchViewHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(viewerServer).WatchView(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*viewerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(viewerServer.GetSnapshot, "GetSnapshot"),
		unaryHandler(viewerServer.GetView, "GetView"),
		unaryHandler(viewerServer.GetStatus, "GetStatus"),
		unaryHandler(viewerServer.SetPair, "SetPair"),
		unaryHandler(viewerServer.Stop, "Stop"),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchView",
			Handler:       watchViewHandler,
			ServerStreams: true,
		},
	},
	Metadata: "orderbook/v1/viewer.proto",
}
