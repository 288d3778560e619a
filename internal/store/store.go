// ABOUTME: Store interfaces and data types for timecard-gateway persistence
// ABOUTME: Defines Driver, CardRecord, PendingRegistration and the narrow store operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrCardRegistered is returned when a card already has a non-deleted record
// in the permanent registry
var ErrCardRegistered = errors.New("card already registered")

// ErrPoolTimeout is returned when no database connection could be acquired
// within the configured acquire timeout
var ErrPoolTimeout = errors.New("timed out acquiring database connection")

// Driver is a read-only reference row owned by the upstream roster
type Driver struct {
	ID   int64
	Name string
}

// CardRecord is a row of the permanent registry mapping a card to a driver
type CardRecord struct {
	ID       int64
	CardID   string
	DriverID int64
	Date     time.Time
	Deleted  bool
}

// PendingRegistration is a reservation awaiting completion by a device touch.
// There is at most one row per card.
type PendingRegistration struct {
	CardID           string
	ReservedDriverID *int64 // nil when no driver is reserved
	ReservationTime  time.Time
	Completed        bool
}

// DriverStore looks up drivers by id
type DriverStore interface {
	GetDriver(ctx context.Context, id int64) (*Driver, error)
}

// RegistrationStore holds the pending-registration table and the permanent registry
type RegistrationStore interface {
	// GetActiveCard returns the newest non-deleted permanent record for a card,
	// or ErrNotFound.
	GetActiveCard(ctx context.Context, cardID string) (*CardRecord, error)

	// ReservePending creates or replaces the pending row for a card, reserving
	// driverID at the given time and clearing the completed flag. If the card
	// already has a non-deleted record, that record is returned together with
	// ErrCardRegistered and nothing is written.
	ReservePending(ctx context.Context, cardID string, driverID int64, at time.Time) (*CardRecord, error)

	// CancelPending clears the reserved driver and the completed flag.
	// Cancelling a card without a pending row is not an error.
	CancelPending(ctx context.Context, cardID string) error

	// CompletePending marks the pending row for a card as completed.
	CompletePending(ctx context.Context, cardID string) error

	// GetPending returns the pending row for a card, or ErrNotFound.
	GetPending(ctx context.Context, cardID string) (*PendingRegistration, error)

	// ListPending returns open reservations made at or after since whose card
	// has no permanent record dated at or after the reservation.
	ListPending(ctx context.Context, since time.Time) ([]*PendingRegistration, error)

	// FinalizeCard inserts a permanent record and completes the pending row in
	// one transaction. If the card already has a non-deleted record, that record
	// is returned together with ErrCardRegistered and nothing is written.
	FinalizeCard(ctx context.Context, cardID string, driverID int64, at time.Time) (*CardRecord, error)
}

// Store is the full persistence surface used by the gateway
type Store interface {
	DriverStore
	RegistrationStore

	// UpsertDriver creates or renames a driver
	UpsertDriver(ctx context.Context, driver *Driver) error

	// Close releases any resources held by the store
	Close() error
}
