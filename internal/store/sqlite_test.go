// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, driver lookup, reservations and card finalization

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.UpsertDriver(ctx, &Driver{ID: 1, Name: "Alice"}))

	d, err := store.GetDriver(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", d.Name)
}

func TestGetDriver(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDriver(ctx, &Driver{ID: 42, Name: "Alice"}))

	d, err := store.GetDriver(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), d.ID)
	assert.Equal(t, "Alice", d.Name)

	_, err = store.GetDriver(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertDriver_Renames(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertDriver(ctx, &Driver{ID: 7, Name: "Bob"}))
	require.NoError(t, store.UpsertDriver(ctx, &Driver{ID: 7, Name: "Robert"}))

	d, err := store.GetDriver(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Robert", d.Name)
}

func TestReservePending_ReplacesReservation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	reserve(t, store, ctx, "CARD1", 1, now)
	reserve(t, store, ctx, "CARD1", 2, now.Add(time.Second))

	pending, err := store.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "CARD1", pending[0].CardID)
	require.NotNil(t, pending[0].ReservedDriverID)
	assert.Equal(t, int64(2), *pending[0].ReservedDriverID)
	assert.False(t, pending[0].Completed)
}

func TestReservePending_ClearsCompleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reserve(t, store, ctx, "CARD1", 1, time.Now())
	require.NoError(t, store.CompletePending(ctx, "CARD1"))

	p, err := store.GetPending(ctx, "CARD1")
	require.NoError(t, err)
	assert.True(t, p.Completed)

	reserve(t, store, ctx, "CARD1", 3, time.Now())
	p, err = store.GetPending(ctx, "CARD1")
	require.NoError(t, err)
	assert.False(t, p.Completed)
}

func TestCancelPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reserve(t, store, ctx, "CARD1", 1, time.Now())
	require.NoError(t, store.CancelPending(ctx, "CARD1"))

	pending, err := store.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].ReservedDriverID)

	// cancelling an unknown card is not an error
	assert.NoError(t, store.CancelPending(ctx, "NOPE"))
}

func TestGetPending_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPending(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPending_FiltersBySince(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	reserve(t, store, ctx, "OLD", 1, base)
	reserve(t, store, ctx, "NEW", 1, base.Add(2*time.Hour))

	pending, err := store.ListPending(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "NEW", pending[0].CardID)
	assert.True(t, pending[0].ReservationTime.Equal(base.Add(2*time.Hour)))
}

func TestListPending_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	for i := range 3 {
		reserve(t, store, ctx, fmt.Sprintf("CARD%d", i), 1, base.Add(time.Duration(i)*time.Second))
	}

	pending, err := store.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "CARD2", pending[0].CardID)
	assert.Equal(t, "CARD0", pending[2].CardID)
}

func TestListPending_ExcludesLaterRegisteredCards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	reserve(t, store, ctx, "CARD1", 1, base)
	// registered through another path after the reservation, pending row left open
	_, err := store.db.ExecContext(ctx,
		`INSERT INTO card_registry (card_id, driver_id, date, deleted) VALUES (?, ?, ?, 0)`,
		"CARD1", 1, formatTime(base.Add(time.Minute)))
	require.NoError(t, err)

	pending, err := store.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListPending_KeepsCardsRegisteredBeforeReservation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO card_registry (card_id, driver_id, date, deleted) VALUES (?, ?, ?, 1)`,
		"CARD1", 1, formatTime(base.Add(-time.Hour)))
	require.NoError(t, err)
	reserve(t, store, ctx, "CARD1", 2, base)

	pending, err := store.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestFinalizeCard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	reserve(t, store, ctx, "CARD1", 5, now)

	rec, err := store.FinalizeCard(ctx, "CARD1", 5, now)
	require.NoError(t, err)
	assert.Equal(t, "CARD1", rec.CardID)
	assert.Equal(t, int64(5), rec.DriverID)

	active, err := store.GetActiveCard(ctx, "CARD1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, active.ID)

	p, err := store.GetPending(ctx, "CARD1")
	require.NoError(t, err)
	assert.True(t, p.Completed)
}

func TestFinalizeCard_ExistingRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.FinalizeCard(ctx, "CARD1", 5, time.Now())
	require.NoError(t, err)

	existing, err := store.FinalizeCard(ctx, "CARD1", 6, time.Now())
	assert.ErrorIs(t, err, ErrCardRegistered)
	require.NotNil(t, existing)
	assert.Equal(t, first.ID, existing.ID)
	assert.Equal(t, int64(5), existing.DriverID)
}

func TestFinalizeCard_ConcurrentCallsWriteOneRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(driver int64) {
			defer wg.Done()
			_, err := store.FinalizeCard(ctx, "CARD1", driver, time.Now())
			results <- err
		}(int64(i + 1))
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrCardRegistered), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM card_registry WHERE card_id = ? AND deleted = 0`, "CARD1").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGetActiveCard_IgnoresDeleted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO card_registry (card_id, driver_id, date, deleted) VALUES (?, ?, ?, 1)`,
		"CARD1", 1, formatTime(time.Now()))
	require.NoError(t, err)

	_, err = store.GetActiveCard(ctx, "CARD1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConn_PoolTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(tmpDir, "pool.db"), PoolOptions{
		MaxOpenConns:   1,
		AcquireTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	held, err := store.conn(ctx)
	require.NoError(t, err)
	defer held.Close()

	_, err = store.GetDriver(ctx, 1)
	assert.ErrorIs(t, err, ErrPoolTimeout)
}

// newTestStore creates a temporary SQLite store for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func reserve(t *testing.T, store *SQLiteStore, ctx context.Context, cardID string, driverID int64, at time.Time) {
	t.Helper()
	existing, err := store.ReservePending(ctx, cardID, driverID, at)
	require.NoError(t, err)
	require.Nil(t, existing)
}

func TestReservePending_RegisteredCardIsUntouched(t *testing.T) {
	for name, s := range map[string]Store{
		"sqlite": newTestStore(t),
		"mock":   NewMockStore(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			_, err := s.ReservePending(ctx, "CARD1", 1, now)
			require.NoError(t, err)
			_, err = s.FinalizeCard(ctx, "CARD1", 1, now)
			require.NoError(t, err)

			existing, err := s.ReservePending(ctx, "CARD1", 2, now.Add(time.Hour))
			assert.ErrorIs(t, err, ErrCardRegistered)
			require.NotNil(t, existing)
			assert.Equal(t, int64(1), existing.DriverID)

			p, err := s.GetPending(ctx, "CARD1")
			require.NoError(t, err)
			assert.True(t, p.Completed, "a registered card must not be reopened")
			assert.Equal(t, int64(1), *p.ReservedDriverID)

			pending, err := s.ListPending(ctx, time.Time{})
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestReservePending_NoPendingRowForRegisteredCard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.FinalizeCard(ctx, "CARD1", 1, time.Now())
	require.NoError(t, err)

	_, err = store.ReservePending(ctx, "CARD1", 2, time.Now())
	assert.ErrorIs(t, err, ErrCardRegistered)

	_, err = store.GetPending(ctx, "CARD1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewSQLiteStore_InMemorySurvivesIdle(t *testing.T) {
	store, err := NewSQLiteStore(":memory:", PoolOptions{IdleTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.UpsertDriver(ctx, &Driver{ID: 1, Name: "Alice"}))

	time.Sleep(1500 * time.Millisecond)

	d, err := store.GetDriver(ctx, 1)
	require.NoError(t, err, "the in-memory database must outlive idle periods")
	assert.Equal(t, "Alice", d.Name)
}
