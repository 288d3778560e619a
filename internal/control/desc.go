// ABOUTME: Hand-written gRPC service descriptors for the control API
// ABOUTME: Server interfaces, method tables and registration helpers

package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/timecard-gateway/internal/events"
)

// Fully qualified service names.
const (
	RegistrationServiceName = "timecard.RegistrationService"
	NotificationServiceName = "timecard.NotificationService"
	ClientServiceName       = "timecard.ClientService"
)

// RegistrationServer is implemented by RegistrationService.
type RegistrationServer interface {
	ListPending(context.Context, *ListPendingRequest) (*ListPendingResponse, error)
	ReserveDirect(context.Context, *ReserveDirectRequest) (*ReserveDirectResponse, error)
	CancelReservation(context.Context, *CancelReservationRequest) (*emptypb.Empty, error)
	RequestDelete(context.Context, *RequestDeleteRequest) (*RequestDeleteResponse, error)
	CompleteRegistration(context.Context, *CompleteRegistrationRequest) (*CompleteRegistrationResponse, error)
}

// NotificationServer is implemented by NotificationService.
type NotificationServer interface {
	BroadcastEvent(context.Context, *events.Envelope) (*emptypb.Empty, error)
	ResolveAndBroadcast(context.Context, *events.Envelope) (*events.Envelope, error)
	StreamEvents(*emptypb.Empty, grpc.ServerStream) error
}

// ClientServer is implemented by ClientService.
type ClientServer interface {
	ListClients(context.Context, *emptypb.Empty) (*ListClientsResponse, error)
}

// unary builds a MethodDesc that decodes a Req and dispatches to call,
// running the server's interceptor chain when one is installed.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

var registrationServiceDesc = grpc.ServiceDesc{
	ServiceName: RegistrationServiceName,
	HandlerType: (*RegistrationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(RegistrationServiceName, "ListPending", RegistrationServer.ListPending),
		unary(RegistrationServiceName, "ReserveDirect", RegistrationServer.ReserveDirect),
		unary(RegistrationServiceName, "CancelReservation", RegistrationServer.CancelReservation),
		unary(RegistrationServiceName, "RequestDelete", RegistrationServer.RequestDelete),
		unary(RegistrationServiceName, "CompleteRegistration", RegistrationServer.CompleteRegistration),
	},
	Metadata: "timecard.proto",
}

var notificationServiceDesc = grpc.ServiceDesc{
	ServiceName: NotificationServiceName,
	HandlerType: (*NotificationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(NotificationServiceName, "BroadcastEvent", NotificationServer.BroadcastEvent),
		unary(NotificationServiceName, "ResolveAndBroadcast", NotificationServer.ResolveAndBroadcast),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "timecard.proto",
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(NotificationServer).StreamEvents(in, stream)
}

var clientServiceDesc = grpc.ServiceDesc{
	ServiceName: ClientServiceName,
	HandlerType: (*ClientServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ClientServiceName, "ListClients", ClientServer.ListClients),
	},
	Metadata: "timecard.proto",
}

// RegisterRegistrationServer registers srv on s.
func RegisterRegistrationServer(s grpc.ServiceRegistrar, srv RegistrationServer) {
	s.RegisterService(&registrationServiceDesc, srv)
}

// RegisterNotificationServer registers srv on s.
func RegisterNotificationServer(s grpc.ServiceRegistrar, srv NotificationServer) {
	s.RegisterService(&notificationServiceDesc, srv)
}

// RegisterClientServer registers srv on s.
func RegisterClientServer(s grpc.ServiceRegistrar, srv ClientServer) {
	s.RegisterService(&clientServiceDesc, srv)
}
