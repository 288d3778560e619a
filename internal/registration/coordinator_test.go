// ABOUTME: Tests for the registration coordinator
// ABOUTME: Covers reserve, cancel, list, delete command encoding and finalize races

package registration

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/timecard-gateway/internal/relay"
	"github.com/2389/timecard-gateway/internal/store"
)

type recordingRelay struct {
	mu       sync.Mutex
	payloads []json.RawMessage
}

func (r *recordingRelay) Relay(payload json.RawMessage) relay.Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return relay.Delivery{Sessions: 2}
}

var fixedNow = time.Date(2026, 5, 10, 1, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, st store.Store, hub Relayer) *Coordinator {
	t.Helper()
	opts := Options{Store: st}
	if hub != nil {
		opts.Hub = hub
	}
	c := New(opts)
	c.now = func() time.Time { return fixedNow }
	return c
}

func seedDrivers(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertDriver(ctx, &store.Driver{ID: 1, Name: "Alice"}))
	require.NoError(t, st.UpsertDriver(ctx, &store.Driver{ID: 2, Name: "Bob"}))
}

func TestReserveDirect(t *testing.T) {
	st := store.NewMockStore()
	seedDrivers(t, st)
	c := newTestCoordinator(t, st, nil)

	res, err := c.ReserveDirect(context.Background(), "CARD1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", res.DriverName)
	assert.Equal(t, fixedNow.Add(DefaultReservationOffset), res.ReservationTime)

	p, err := st.GetPending(context.Background(), "CARD1")
	require.NoError(t, err)
	require.NotNil(t, p.ReservedDriverID)
	assert.Equal(t, int64(1), *p.ReservedDriverID)
	assert.Equal(t, fixedNow.Add(DefaultReservationOffset), p.ReservationTime)
	assert.False(t, p.Completed)
}

func TestReserveDirect_CustomOffset(t *testing.T) {
	st := store.NewMockStore()
	seedDrivers(t, st)
	offset := -time.Minute
	c := New(Options{Store: st, ReservationOffset: &offset})
	c.now = func() time.Time { return fixedNow }

	res, err := c.ReserveDirect(context.Background(), "CARD1", 1)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-time.Minute), res.ReservationTime)
}

func TestReserveDirect_SecondReservationWins(t *testing.T) {
	st := store.NewMockStore()
	seedDrivers(t, st)
	c := newTestCoordinator(t, st, nil)
	ctx := context.Background()

	_, err := c.ReserveDirect(ctx, "CARD1", 1)
	require.NoError(t, err)
	_, err = c.ReserveDirect(ctx, "CARD1", 2)
	require.NoError(t, err)

	pending, err := c.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), *pending[0].ReservedDriverID)
}

func TestReserveDirect_UnknownDriver(t *testing.T) {
	st := store.NewMockStore()
	seedDrivers(t, st)
	c := newTestCoordinator(t, st, nil)

	_, err := c.ReserveDirect(context.Background(), "CARD1", 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInternal)

	_, err = st.GetPending(context.Background(), "CARD1")
	assert.ErrorIs(t, err, store.ErrNotFound, "no row may be created")
}

func TestReserveDirect_AlreadyRegistered(t *testing.T) {
	st := store.NewMockStore()
	seedDrivers(t, st)
	c := newTestCoordinator(t, st, nil)
	ctx := context.Background()

	_, err := st.FinalizeCard(ctx, "CARD1", 1, fixedNow.Add(-time.Hour))
	require.NoError(t, err)

	_, err = c.ReserveDirect(ctx, "CARD1", 2)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = st.GetPending(ctx, "CARD1")
	assert.ErrorIs(t, err, store.ErrNotFound, "conflict must not mutate")
	assert.Len(t, st.CardRecords("CARD1"), 1)
}

func TestReserveDirect_StoreFailure(t *testing.T) {
	st := store.NewMockStore()
	st.SetError(errors.New("connection reset"))
	c := newTestCoordinator(t, st, nil)

	_, err := c.ReserveDirect(context.Background(), "CARD1", 1)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestCancelReservation(t *testing.T) {
	st := store.NewMockStore()
	seedDrivers(t, st)
	c := newTestCoordinator(t, st, nil)
	ctx := context.Background()

	_, err := c.ReserveDirect(ctx, "CARD1", 1)
	require.NoError(t, err)
	require.NoError(t, c.CancelReservation(ctx, "CARD1"))

	pending, err := c.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "CARD1", pending[0].CardID)
	assert.Nil(t, pending[0].ReservedDriverID)

	// idempotent
	require.NoError(t, c.CancelReservation(ctx, "CARD1"))
	require.NoError(t, c.CancelReservation(ctx, "NEVER-RESERVED"))
}

func TestListPending_StoreFailure(t *testing.T) {
	st := store.NewMockStore()
	st.SetError(errors.New("boom"))
	c := newTestCoordinator(t, st, nil)

	_, err := c.ListPending(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrInternal)
}

func TestRequestDelete(t *testing.T) {
	hub := &recordingRelay{}
	c := newTestCoordinator(t, store.NewMockStore(), hub)

	d, err := c.RequestDelete(context.Background(), "ab12cd")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Sessions)

	require.Len(t, hub.payloads, 1)
	var once string
	require.NoError(t, json.Unmarshal(hub.payloads[0], &once), "payload must be a JSON string")
	var twice string
	require.NoError(t, json.Unmarshal([]byte(once), &twice), "payload must be double encoded")
	assert.JSONEq(t, `{"status":"delete_ic","ic":"AB12CD"}`, twice)
}

func TestRequestDelete_NoHub(t *testing.T) {
	c := newTestCoordinator(t, store.NewMockStore(), nil)

	_, err := c.RequestDelete(context.Background(), "ab12")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRequestDelete_NoDatabaseAccess(t *testing.T) {
	st := store.NewMockStore()
	st.SetError(errors.New("db offline"))
	c := newTestCoordinator(t, st, &recordingRelay{})

	_, err := c.RequestDelete(context.Background(), "ab12")
	assert.NoError(t, err)
}

func TestFinalize(t *testing.T) {
	st := store.NewMockStore()
	seedDrivers(t, st)
	c := newTestCoordinator(t, st, nil)
	ctx := context.Background()

	_, err := c.ReserveDirect(ctx, "CARD1", 1)
	require.NoError(t, err)

	rec, err := c.Finalize(ctx, "CARD1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.DriverID)
	assert.Equal(t, fixedNow, rec.Date)

	p, err := st.GetPending(ctx, "CARD1")
	require.NoError(t, err)
	assert.True(t, p.Completed)

	pending, err := c.ListPending(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFinalize_TwiceSameDriverIsNoop(t *testing.T) {
	st := store.NewMockStore()
	c := newTestCoordinator(t, st, nil)
	ctx := context.Background()

	first, err := c.Finalize(ctx, "CARD1", 1)
	require.NoError(t, err)
	second, err := c.Finalize(ctx, "CARD1", 1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, st.CardRecords("CARD1"), 1)
}

func TestFinalize_DifferentDriverConflicts(t *testing.T) {
	st := store.NewMockStore()
	c := newTestCoordinator(t, st, nil)
	ctx := context.Background()

	_, err := c.Finalize(ctx, "CARD1", 1)
	require.NoError(t, err)

	_, err = c.Finalize(ctx, "CARD1", 2)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, st.CardRecords("CARD1"), 1)
}

func TestFinalize_StoreFailure(t *testing.T) {
	st := store.NewMockStore()
	st.SetError(errors.New("disk full"))
	c := newTestCoordinator(t, st, nil)

	_, err := c.Finalize(context.Background(), "CARD1", 1)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestConcurrentReserveAndFinalize_SQLite(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "registration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	seedDrivers(t, st)

	c := New(Options{Store: st})
	ctx := context.Background()

	const rounds = 10
	var wg sync.WaitGroup
	for i := range rounds {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := c.ReserveDirect(ctx, "CARD1", int64(i%2+1))
			if err != nil {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := c.Finalize(ctx, "CARD1", int64(i%2+1))
			if err != nil {
				assert.ErrorIs(t, err, ErrConflict)
			}
		}()
	}
	wg.Wait()

	rec, err := st.GetActiveCard(ctx, "CARD1")
	require.NoError(t, err)

	_, err = st.FinalizeCard(ctx, "CARD1", rec.DriverID, time.Now())
	assert.ErrorIs(t, err, store.ErrCardRegistered, "exactly one live record must remain")
}

// finalizingStore registers the card for another driver just before the
// reservation reaches the store, the way a device touch can land mid-reserve.
type finalizingStore struct {
	store.Store
	driverID int64
}

func (f *finalizingStore) ReservePending(ctx context.Context, cardID string, driverID int64, at time.Time) (*store.CardRecord, error) {
	if _, err := f.Store.FinalizeCard(ctx, cardID, f.driverID, fixedNow); err != nil {
		return nil, err
	}
	return f.Store.ReservePending(ctx, cardID, driverID, at)
}

func TestReserveDirect_FinalizedMidReserveConflicts(t *testing.T) {
	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "race.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	for name, st := range map[string]store.Store{
		"sqlite": sqlite,
		"mock":   store.NewMockStore(),
	} {
		t.Run(name, func(t *testing.T) {
			seedDrivers(t, st)
			c := newTestCoordinator(t, &finalizingStore{Store: st, driverID: 1}, nil)
			ctx := context.Background()

			_, err := c.ReserveDirect(ctx, "CARD1", 2)
			assert.ErrorIs(t, err, ErrConflict)

			_, err = st.GetPending(ctx, "CARD1")
			assert.ErrorIs(t, err, store.ErrNotFound, "a registered card must not get a pending row")

			pending, err := c.ListPending(ctx, time.Time{})
			require.NoError(t, err)
			assert.Empty(t, pending)

			rec, err := c.Finalize(ctx, "CARD1", 1)
			require.NoError(t, err, "the device completion for the registered driver still succeeds")
			assert.Equal(t, int64(1), rec.DriverID)
		})
	}
}

func TestReserveDirect_ZeroOffset(t *testing.T) {
	st := store.NewMockStore()
	seedDrivers(t, st)
	var zero time.Duration
	c := New(Options{Store: st, ReservationOffset: &zero})
	c.now = func() time.Time { return fixedNow }

	res, err := c.ReserveDirect(context.Background(), "CARD1", 1)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, res.ReservationTime)
}
