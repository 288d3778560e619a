// ABOUTME: Typed client for the control services over the JSON codec
// ABOUTME: Used by the CLI and by tests

package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/timecard-gateway/internal/events"
)

// Client calls every control service over one connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc. Calls always use the JSON content-subtype.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, service, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+service+"/"+method, in, out, opts...)
}

func (c *Client) ListPending(ctx context.Context, in *ListPendingRequest, opts ...grpc.CallOption) (*ListPendingResponse, error) {
	out := new(ListPendingResponse)
	if err := c.invoke(ctx, RegistrationServiceName, "ListPending", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReserveDirect(ctx context.Context, in *ReserveDirectRequest, opts ...grpc.CallOption) (*ReserveDirectResponse, error) {
	out := new(ReserveDirectResponse)
	if err := c.invoke(ctx, RegistrationServiceName, "ReserveDirect", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CancelReservation(ctx context.Context, in *CancelReservationRequest, opts ...grpc.CallOption) error {
	return c.invoke(ctx, RegistrationServiceName, "CancelReservation", in, new(emptypb.Empty), opts)
}

func (c *Client) RequestDelete(ctx context.Context, in *RequestDeleteRequest, opts ...grpc.CallOption) (*RequestDeleteResponse, error) {
	out := new(RequestDeleteResponse)
	if err := c.invoke(ctx, RegistrationServiceName, "RequestDelete", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CompleteRegistration(ctx context.Context, in *CompleteRegistrationRequest, opts ...grpc.CallOption) (*CompleteRegistrationResponse, error) {
	out := new(CompleteRegistrationResponse)
	if err := c.invoke(ctx, RegistrationServiceName, "CompleteRegistration", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) BroadcastEvent(ctx context.Context, in *events.Envelope, opts ...grpc.CallOption) error {
	return c.invoke(ctx, NotificationServiceName, "BroadcastEvent", in, new(emptypb.Empty), opts)
}

func (c *Client) ResolveAndBroadcast(ctx context.Context, in *events.Envelope, opts ...grpc.CallOption) (*events.Envelope, error) {
	out := new(events.Envelope)
	if err := c.invoke(ctx, NotificationServiceName, "ResolveAndBroadcast", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListClients(ctx context.Context, opts ...grpc.CallOption) (*ListClientsResponse, error) {
	out := new(ListClientsResponse)
	if err := c.invoke(ctx, ClientServiceName, "ListClients", &emptypb.Empty{}, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// EventStream receives frames from StreamEvents.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next frame.
func (s *EventStream) Recv() (*EventFrame, error) {
	f := new(EventFrame)
	if err := s.stream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// StreamEvents opens the relayed event stream. Cancel ctx to stop it.
func (c *Client) StreamEvents(ctx context.Context, opts ...grpc.CallOption) (*EventStream, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &notificationServiceDesc.Streams[0], "/"+NotificationServiceName+"/StreamEvents", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
