// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package exposes narrow interfaces matching what its callers need:
//
//   - DriverStore: driver lookup by id (read-only reference data)
//   - RegistrationStore: pending reservations and the permanent card registry
//   - Store: both of the above plus driver seeding and Close
//
// SQLiteStore implements all interfaces in a single struct. MockStore is an
// in-memory implementation with the same semantics for unit tests.
//
// # Data Models
//
//   - Driver: id and display name
//   - PendingRegistration: one row per card, holding the reserved driver,
//     the reservation time and a completed flag
//   - CardRecord: permanent card-to-driver assignment; soft-deleted rows are
//     kept for history
//
// # Connection Pool
//
// The pool is bounded (25 connections by default). Every call acquires a
// connection with a bounded wait and fails with ErrPoolTimeout rather than
// queueing indefinitely:
//
//	s, err := store.NewSQLiteStore(path, store.PoolOptions{
//	    MaxOpenConns:   25,
//	    AcquireTimeout: 30 * time.Second,
//	})
//
// # Invariants
//
// A partial unique index keeps at most one non-deleted CardRecord per card:
//
//	CREATE UNIQUE INDEX idx_card_registry_active ON card_registry(card_id) WHERE deleted = 0;
//
// FinalizeCard checks and inserts inside one immediate transaction, so
// concurrent finalizations of the same card never produce two live records.
//
// # Error Handling
//
//   - ErrNotFound: requested driver, card or reservation does not exist
//   - ErrCardRegistered: card already has a live permanent record
//   - ErrPoolTimeout: no connection became free within the acquire timeout
package store
