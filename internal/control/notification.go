// ABOUTME: NotificationService: pushes externally originated events through the relay
// ABOUTME: Also streams every relayed payload to subscribed operators

package control

import (
	"context"
	"encoding/json"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/timecard-gateway/internal/events"
	"github.com/2389/timecard-gateway/internal/relay"
)

// Resolver applies status-specific enrichment to an envelope.
type Resolver interface {
	Resolve(ctx context.Context, env *events.Envelope) bool
}

// Broadcaster is the relay surface the service needs.
type Broadcaster interface {
	Relay(payload json.RawMessage) relay.Delivery
	Stream() *relay.EventBroadcaster
}

// NotificationService implements NotificationServer.
type NotificationService struct {
	resolver Resolver
	hub      Broadcaster
	logger   *slog.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(resolver Resolver, hub Broadcaster, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{
		resolver: resolver,
		hub:      hub,
		logger:   logger.With("component", "control.notification"),
	}
}

// BroadcastEvent relays env unchanged.
func (s *NotificationService) BroadcastEvent(ctx context.Context, env *events.Envelope) (*emptypb.Empty, error) {
	if err := s.relay(env); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// ResolveAndBroadcast enriches env the same way device events are enriched,
// relays it, and returns it. Lookup failures leave env unchanged.
func (s *NotificationService) ResolveAndBroadcast(ctx context.Context, env *events.Envelope) (*events.Envelope, error) {
	if s.resolver != nil && s.resolver.Resolve(ctx, env) {
		s.logger.Debug("resolved external event", "status", env.Status())
	}
	if err := s.relay(env); err != nil {
		return nil, err
	}
	return env, nil
}

func (s *NotificationService) relay(env *events.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return status.Errorf(codes.Internal, "encoding event: %v", err)
	}
	d := s.hub.Relay(payload)
	s.logger.Debug("external event relayed", "status", env.Status(), "sessions", d.Sessions, "subscribers", d.Subscribers)
	return nil
}

// StreamEvents sends every relayed payload until the caller goes away or the
// relay shuts down.
func (s *NotificationService) StreamEvents(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	broadcaster := s.hub.Stream()
	ch, subID := broadcaster.Subscribe(ctx)
	defer broadcaster.Unsubscribe(subID)

	s.logger.Info("event stream opened", "sub_id", subID)
	defer s.logger.Info("event stream closed", "sub_id", subID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "event stream closed")
			}
			if err := stream.SendMsg(&EventFrame{Payload: payload}); err != nil {
				return err
			}
		}
	}
}
