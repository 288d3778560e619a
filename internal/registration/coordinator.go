// ABOUTME: Registration coordinator for the reserve then device-completes card protocol.
// ABOUTME: Maps store outcomes onto NotFound, Conflict, Internal and Unavailable.

package registration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/timecard-gateway/internal/relay"
	"github.com/2389/timecard-gateway/internal/store"
)

var (
	// ErrNotFound indicates the referenced driver is absent.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the card already has a live permanent record.
	ErrConflict = errors.New("card already registered")

	// ErrInternal wraps store failures.
	ErrInternal = errors.New("internal error")

	// ErrUnavailable indicates no relay is configured.
	ErrUnavailable = errors.New("real-time layer not configured")
)

// DefaultReservationOffset is added to the current time when a reservation is made.
const DefaultReservationOffset = 9 * time.Hour

// Relayer delivers a JSON payload to every broadcast sink.
type Relayer interface {
	Relay(payload json.RawMessage) relay.Delivery
}

// Options configures a Coordinator.
type Options struct {
	Store store.Store
	Hub   Relayer // optional; RequestDelete fails with ErrUnavailable without it

	// ReservationOffset is added to now when stamping reservations.
	// Nil uses DefaultReservationOffset; zero and negative values are honored.
	ReservationOffset *time.Duration

	Logger *slog.Logger
}

// Reservation is the result of a successful ReserveDirect.
type Reservation struct {
	CardID          string
	DriverID        int64
	DriverName      string
	ReservationTime time.Time
}

// Coordinator implements the registration lifecycle.
type Coordinator struct {
	store  store.Store
	hub    Relayer
	offset time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	offset := DefaultReservationOffset
	if opts.ReservationOffset != nil {
		offset = *opts.ReservationOffset
	}
	return &Coordinator{
		store:  opts.Store,
		hub:    opts.Hub,
		offset: offset,
		logger: logger.With("component", "registration"),
		now:    time.Now,
	}
}

// ListPending returns open reservations made at or after since, newest first.
func (c *Coordinator) ListPending(ctx context.Context, since time.Time) ([]*store.PendingRegistration, error) {
	pending, err := c.store.ListPending(ctx, since)
	if err != nil {
		return nil, internal("list pending", err)
	}
	return pending, nil
}

// ReserveDirect reserves driverID for cardID. Nothing is written when the
// driver is missing or the card is already registered.
func (c *Coordinator) ReserveDirect(ctx context.Context, cardID string, driverID int64) (*Reservation, error) {
	driver, err := c.store.GetDriver(ctx, driverID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("driver %d: %w", driverID, ErrNotFound)
	}
	if err != nil {
		return nil, internal("reserve: lookup driver", err)
	}

	at := c.now().Add(c.offset)
	existing, err := c.store.ReservePending(ctx, cardID, driverID, at)
	if errors.Is(err, store.ErrCardRegistered) {
		if existing != nil {
			return nil, fmt.Errorf("card %s registered to driver %d: %w", cardID, existing.DriverID, ErrConflict)
		}
		return nil, fmt.Errorf("card %s: %w", cardID, ErrConflict)
	}
	if err != nil {
		return nil, internal("reserve: upsert pending", err)
	}

	c.logger.Info("card reserved",
		"card_id", cardID,
		"driver_id", driverID,
		"driver_name", driver.Name,
	)
	return &Reservation{
		CardID:          cardID,
		DriverID:        driverID,
		DriverName:      driver.Name,
		ReservationTime: at.UTC(),
	}, nil
}

// CancelReservation clears the reserved driver. It succeeds whether or not
// anything was reserved.
func (c *Coordinator) CancelReservation(ctx context.Context, cardID string) error {
	if err := c.store.CancelPending(ctx, cardID); err != nil {
		return internal("cancel reservation", err)
	}
	c.logger.Info("reservation cancelled", "card_id", cardID)
	return nil
}

// RequestDelete asks connected devices to delete a card. The card id is
// upper-cased and no database access happens.
func (c *Coordinator) RequestDelete(ctx context.Context, cardID string) (relay.Delivery, error) {
	cardID = strings.ToUpper(cardID)
	if c.hub == nil {
		return relay.Delivery{}, ErrUnavailable
	}

	payload, err := DeleteCommand(cardID)
	if err != nil {
		return relay.Delivery{}, internal("encode delete command", err)
	}

	d := c.hub.Relay(payload)
	c.logger.Info("delete card requested", "card_id", cardID, "sessions", d.Sessions)
	return d, nil
}

// DeleteCommand builds the relay payload for a card deletion. Devices only
// treat a plain string as a control instruction, so the command object is
// encoded to a string and that string is encoded again.
func DeleteCommand(cardID string) (json.RawMessage, error) {
	inner, err := json.Marshal(map[string]string{
		"status": "delete_ic",
		"ic":     cardID,
	})
	if err != nil {
		return nil, err
	}
	outer, err := json.Marshal(string(inner))
	if err != nil {
		return nil, err
	}
	return outer, nil
}

// Finalize writes the permanent record for cardID and completes the pending
// row. Repeating it for the same driver succeeds without writing a second
// record; a different driver gets ErrConflict.
func (c *Coordinator) Finalize(ctx context.Context, cardID string, driverID int64) (*store.CardRecord, error) {
	rec, err := c.store.FinalizeCard(ctx, cardID, driverID, c.now())
	switch {
	case err == nil:
		c.logger.Info("card finalized", "card_id", cardID, "driver_id", driverID)
		return rec, nil

	case errors.Is(err, store.ErrCardRegistered):
		if rec != nil && rec.DriverID == driverID {
			if err := c.store.CompletePending(ctx, cardID); err != nil {
				return nil, internal("finalize: complete pending", err)
			}
			c.logger.Debug("card already finalized for driver", "card_id", cardID, "driver_id", driverID)
			return rec, nil
		}
		return rec, fmt.Errorf("card %s: %w", cardID, ErrConflict)

	default:
		return nil, internal("finalize", err)
	}
}

func internal(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
