// ABOUTME: ClientService: snapshot of connected device sessions
// ABOUTME: Times are reported as RFC3339 strings, oldest connection first

package control

import (
	"context"
	"sort"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/timecard-gateway/internal/agent"
)

// SessionLister lists connected sessions.
type SessionLister interface {
	List() []agent.Session
}

// ClientService implements ClientServer.
type ClientService struct {
	sessions SessionLister
}

// NewClientService creates the service.
func NewClientService(sessions SessionLister) *ClientService {
	return &ClientService{sessions: sessions}
}

func (s *ClientService) ListClients(ctx context.Context, _ *emptypb.Empty) (*ListClientsResponse, error) {
	sessions := s.sessions.List()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})

	resp := &ListClientsResponse{Clients: make([]ConnectedClient, 0, len(sessions)), Total: len(sessions)}
	for _, sess := range sessions {
		resp.Clients = append(resp.Clients, ConnectedClient{
			SessionID:    sess.ID,
			IPAddress:    sess.IPAddress,
			ConnectedAt:  sess.ConnectedAt.Format(time.RFC3339),
			LastActivity: sess.LastActivity.Format(time.RFC3339),
		})
	}
	return resp, nil
}
