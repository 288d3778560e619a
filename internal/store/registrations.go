// ABOUTME: Pending registration and permanent card registry persistence
// ABOUTME: Implements the reserve, cancel, list and finalize queries for SQLiteStore

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetActiveCard returns the newest non-deleted permanent record for a card.
// Returns ErrNotFound if the card is not registered.
func (s *SQLiteStore) GetActiveCard(ctx context.Context, cardID string) (*CardRecord, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return scanActiveCard(c.QueryRowContext(ctx, activeCardQuery, cardID))
}

const activeCardQuery = `
	SELECT id, card_id, driver_id, date, deleted
	FROM card_registry
	WHERE card_id = ? AND deleted = 0
	ORDER BY date DESC
	LIMIT 1
`

func scanActiveCard(row *sql.Row) (*CardRecord, error) {
	var rec CardRecord
	var dateStr string
	var deleted int

	err := row.Scan(&rec.ID, &rec.CardID, &rec.DriverID, &dateStr, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying card record: %w", err)
	}

	rec.Date, err = parseTime(dateStr)
	if err != nil {
		return nil, fmt.Errorf("parsing card date: %w", err)
	}
	rec.Deleted = deleted != 0
	return &rec, nil
}

// ReservePending reserves driverID for cardID, replacing any previous
// reservation. The live-record check and the upsert share a write
// transaction, so a card finalized concurrently is never reopened.
func (s *SQLiteStore) ReservePending(ctx context.Context, cardID string, driverID int64, at time.Time) (*CardRecord, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO pending_registrations (card_id, reserved_driver_id, reservation_time, completed)
		SELECT ?, ?, ?, 0
		WHERE NOT EXISTS (SELECT 1 FROM card_registry WHERE card_id = ? AND deleted = 0)
		ON CONFLICT(card_id) DO UPDATE SET
			reserved_driver_id = excluded.reserved_driver_id,
			reservation_time = excluded.reservation_time,
			completed = 0
	`, cardID, driverID, formatTime(at), cardID)
	if err != nil {
		return nil, fmt.Errorf("upserting pending registration: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("checking reservation: %w", err)
	} else if n == 0 {
		existing, err := scanActiveCard(tx.QueryRowContext(ctx, activeCardQuery, cardID))
		if err != nil {
			return nil, fmt.Errorf("card %s has a live record: %w", cardID, ErrCardRegistered)
		}
		return existing, ErrCardRegistered
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reservation: %w", err)
	}

	s.logger.Debug("reserved card", "card_id", cardID, "driver_id", driverID)
	return nil, nil
}

// CancelPending clears the reservation so the card shows up as unassigned again
func (s *SQLiteStore) CancelPending(ctx context.Context, cardID string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = c.ExecContext(ctx, `
		UPDATE pending_registrations
		SET reserved_driver_id = NULL, completed = 0
		WHERE card_id = ?
	`, cardID)
	if err != nil {
		return fmt.Errorf("cancelling pending registration: %w", err)
	}
	return nil
}

// CompletePending marks the pending row for a card as completed
func (s *SQLiteStore) CompletePending(ctx context.Context, cardID string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.ExecContext(ctx, `UPDATE pending_registrations SET completed = 1 WHERE card_id = ?`, cardID); err != nil {
		return fmt.Errorf("completing pending registration: %w", err)
	}
	return nil
}

// GetPending returns the pending row for a card.
// Returns ErrNotFound if there is none.
func (s *SQLiteStore) GetPending(ctx context.Context, cardID string) (*PendingRegistration, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	row := c.QueryRowContext(ctx, `
		SELECT card_id, reserved_driver_id, reservation_time, completed
		FROM pending_registrations
		WHERE card_id = ?
	`, cardID)

	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pending registration: %w", err)
	}
	return p, nil
}

// ListPending returns open reservations made at or after since, newest first.
// Cards that already have a live permanent record dated at or after the
// reservation are excluded.
func (s *SQLiteStore) ListPending(ctx context.Context, since time.Time) ([]*PendingRegistration, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	rows, err := c.QueryContext(ctx, `
		SELECT p.card_id, p.reserved_driver_id, p.reservation_time, p.completed
		FROM pending_registrations p
		LEFT JOIN card_registry r
			ON r.card_id = p.card_id
			AND r.deleted = 0
			AND r.date >= p.reservation_time
		WHERE p.reservation_time >= ?
			AND p.completed = 0
			AND r.card_id IS NULL
		ORDER BY p.reservation_time DESC
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying pending registrations: %w", err)
	}
	defer rows.Close()

	var pending []*PendingRegistration
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending registration: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending registrations: %w", err)
	}
	return pending, nil
}

// FinalizeCard writes the permanent record and completes the pending row.
// The live-record check and the insert share a write transaction, and the
// partial unique index rejects any insert that still races past it.
func (s *SQLiteStore) FinalizeCard(ctx context.Context, cardID string, driverID int64, at time.Time) (*CardRecord, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanActiveCard(tx.QueryRowContext(ctx, activeCardQuery, cardID))
	switch {
	case err == nil:
		return existing, ErrCardRegistered
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO card_registry (card_id, driver_id, date, deleted)
		VALUES (?, ?, ?, 0)
	`, cardID, driverID, formatTime(at))
	if err != nil {
		if isConstraintViolation(err) {
			_ = tx.Rollback()
			current, lookupErr := scanActiveCard(c.QueryRowContext(ctx, activeCardQuery, cardID))
			if lookupErr != nil {
				return nil, ErrCardRegistered
			}
			return current, ErrCardRegistered
		}
		return nil, fmt.Errorf("inserting card record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE pending_registrations SET completed = 1 WHERE card_id = ?`, cardID); err != nil {
		return nil, fmt.Errorf("completing pending registration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return nil, ErrCardRegistered
		}
		return nil, fmt.Errorf("committing finalize: %w", err)
	}

	id, _ := res.LastInsertId()
	s.logger.Info("card registered", "card_id", cardID, "driver_id", driverID)
	return &CardRecord{
		ID:       id,
		CardID:   cardID,
		DriverID: driverID,
		Date:     at.UTC(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*PendingRegistration, error) {
	var p PendingRegistration
	var driverID sql.NullInt64
	var timeStr string
	var completed int

	if err := row.Scan(&p.CardID, &driverID, &timeStr, &completed); err != nil {
		return nil, err
	}

	if driverID.Valid {
		id := driverID.Int64
		p.ReservedDriverID = &id
	}

	var err error
	p.ReservationTime, err = parseTime(timeStr)
	if err != nil {
		return nil, fmt.Errorf("parsing reservation_time: %w", err)
	}
	p.Completed = completed != 0
	return &p, nil
}
