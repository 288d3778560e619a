// ABOUTME: RegistrationService: operator-facing card reservation RPCs
// ABOUTME: Maps coordinator errors to success=false bodies or gRPC status codes

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/2389/timecard-gateway/internal/registration"
	"github.com/2389/timecard-gateway/internal/relay"
	"github.com/2389/timecard-gateway/internal/store"
)

// DefaultPendingWindow is how far back ListPending looks when no start is given.
const DefaultPendingWindow = time.Hour

// localLayout is the timestamp format operators' tooling has always sent.
const localLayout = "2006-01-02 15:04:05"

// Registrar is the registration lifecycle the service drives.
type Registrar interface {
	ListPending(ctx context.Context, since time.Time) ([]*store.PendingRegistration, error)
	ReserveDirect(ctx context.Context, cardID string, driverID int64) (*registration.Reservation, error)
	CancelReservation(ctx context.Context, cardID string) error
	RequestDelete(ctx context.Context, cardID string) (relay.Delivery, error)
	Finalize(ctx context.Context, cardID string, driverID int64) (*store.CardRecord, error)
}

// RegistrationService implements RegistrationServer.
type RegistrationService struct {
	registrar Registrar
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistrationService creates the service. A zero window uses DefaultPendingWindow.
func NewRegistrationService(registrar Registrar, window time.Duration, logger *slog.Logger) *RegistrationService {
	if window <= 0 {
		window = DefaultPendingWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationService{
		registrar: registrar,
		window:    window,
		logger:    logger.With("component", "control.registration"),
		now:       time.Now,
	}
}

func (s *RegistrationService) ListPending(ctx context.Context, req *ListPendingRequest) (*ListPendingResponse, error) {
	since := s.now().Add(-s.window)
	if req.Since != "" {
		parsed, err := parseSince(req.Since)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "since: %v", err)
		}
		since = parsed
	}

	pending, err := s.registrar.ListPending(ctx, since)
	if err != nil {
		return nil, s.rpcError("ListPending", err)
	}

	resp := &ListPendingResponse{Items: make([]PendingRegistration, 0, len(pending))}
	for _, p := range pending {
		resp.Items = append(resp.Items, PendingRegistration{
			CardID:           p.CardID,
			ReservedDriverID: p.ReservedDriverID,
			ReservationTime:  p.ReservationTime.Format(time.RFC3339),
			Completed:        p.Completed,
		})
	}
	return resp, nil
}

func (s *RegistrationService) ReserveDirect(ctx context.Context, req *ReserveDirectRequest) (*ReserveDirectResponse, error) {
	if err := requireCard(req.CardID); err != nil {
		return nil, err
	}

	res, err := s.registrar.ReserveDirect(ctx, req.CardID, req.DriverID)
	if reason, ok := businessReason(err); ok {
		return &ReserveDirectResponse{Reason: reason, Message: err.Error(), CardID: req.CardID, DriverID: req.DriverID}, nil
	}
	if err != nil {
		return nil, s.rpcError("ReserveDirect", err)
	}

	s.logger.Info("card reserved", "card_id", res.CardID, "driver_id", res.DriverID)
	return &ReserveDirectResponse{
		Success:         true,
		Message:         "reservation stored; registration completes on the next card read",
		CardID:          res.CardID,
		DriverID:        res.DriverID,
		DriverName:      res.DriverName,
		ReservationTime: res.ReservationTime.Format(time.RFC3339),
	}, nil
}

func (s *RegistrationService) CancelReservation(ctx context.Context, req *CancelReservationRequest) (*emptypb.Empty, error) {
	if err := requireCard(req.CardID); err != nil {
		return nil, err
	}
	if err := s.registrar.CancelReservation(ctx, req.CardID); err != nil {
		return nil, s.rpcError("CancelReservation", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *RegistrationService) RequestDelete(ctx context.Context, req *RequestDeleteRequest) (*RequestDeleteResponse, error) {
	if err := requireCard(req.CardID); err != nil {
		return nil, err
	}
	d, err := s.registrar.RequestDelete(ctx, req.CardID)
	if err != nil {
		return nil, s.rpcError("RequestDelete", err)
	}
	card := strings.ToUpper(req.CardID)
	return &RequestDeleteResponse{
		Success:  true,
		Message:  fmt.Sprintf("delete request sent for %s", card),
		Sessions: d.Sessions,
	}, nil
}

func (s *RegistrationService) CompleteRegistration(ctx context.Context, req *CompleteRegistrationRequest) (*CompleteRegistrationResponse, error) {
	if err := requireCard(req.CardID); err != nil {
		return nil, err
	}

	rec, err := s.registrar.Finalize(ctx, req.CardID, req.DriverID)
	if reason, ok := businessReason(err); ok {
		return &CompleteRegistrationResponse{Reason: reason, Message: err.Error()}, nil
	}
	if err != nil {
		return nil, s.rpcError("CompleteRegistration", err)
	}

	return &CompleteRegistrationResponse{
		Success:  true,
		Message:  fmt.Sprintf("card %s registered to driver %d", rec.CardID, rec.DriverID),
		RecordID: rec.ID,
		Date:     rec.Date.Format(time.RFC3339),
	}, nil
}

func (s *RegistrationService) rpcError(method string, err error) error {
	if errors.Is(err, registration.ErrUnavailable) {
		s.logger.Warn("real-time layer unavailable", "method", method)
		return status.Error(codes.Unavailable, err.Error())
	}
	s.logger.Error("registration call failed", "method", method, "error", err)
	return status.Error(codes.Internal, err.Error())
}

func businessReason(err error) (string, bool) {
	switch {
	case errors.Is(err, registration.ErrNotFound):
		return ReasonNotFound, true
	case errors.Is(err, registration.ErrConflict):
		return ReasonConflict, true
	}
	return "", false
}

func requireCard(cardID string) error {
	if strings.TrimSpace(cardID) == "" {
		return status.Error(codes.InvalidArgument, "card_id is required")
	}
	return nil
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localLayout, s, time.Local)
}
