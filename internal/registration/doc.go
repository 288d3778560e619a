// Package registration coordinates card-to-driver registration.
//
// Registration is two-phase. An operator reserves a driver for a card
// (ReserveDirect), and the next time a device reads that card it completes
// the registration (Finalize), writing the permanent record.
//
// # Lifecycle
//
//	ReserveDirect ──► pending (driver set) ──Finalize──► completed + permanent record
//	      ▲                   │
//	      └── CancelReservation (driver cleared, shows up in ListPending again)
//
// # Forward Offset
//
// Reservations are stamped with now plus a configurable offset (nine hours
// by default). The device-side completion path runs on a different clock,
// and the offset keeps ListPending's "registered at or after the
// reservation" filter lined up with it. The value is kept configurable
// because it may be masking a timezone bug rather than a real skew.
//
// # Errors
//
//   - ErrNotFound: the referenced driver does not exist
//   - ErrConflict: the card already has a live permanent record
//   - ErrInternal: the store failed; the underlying error is wrapped
//   - ErrUnavailable: a broadcast-dependent operation has no relay
//
// ErrNotFound and ErrConflict are business outcomes; ErrInternal and
// ErrUnavailable are transport-level failures.
package registration
