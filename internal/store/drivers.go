// ABOUTME: Driver reference lookups for the SQLite store
// ABOUTME: Drivers are read-only to the gateway apart from seeding via UpsertDriver

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetDriver retrieves a driver by id.
// Returns ErrNotFound if the driver doesn't exist.
func (s *SQLiteStore) GetDriver(ctx context.Context, id int64) (*Driver, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var d Driver
	err = c.QueryRowContext(ctx, `SELECT id, name FROM drivers WHERE id = ? LIMIT 1`, id).Scan(&d.ID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying driver: %w", err)
	}
	return &d, nil
}

// UpsertDriver creates a driver or renames an existing one
func (s *SQLiteStore) UpsertDriver(ctx context.Context, driver *Driver) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = c.ExecContext(ctx, `
		INSERT INTO drivers (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, driver.ID, driver.Name)
	if err != nil {
		return fmt.Errorf("upserting driver: %w", err)
	}
	return nil
}
