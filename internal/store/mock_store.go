// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject store failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	drivers map[int64]*Driver
	cards   []*CardRecord                   // permanent registry, append-only
	pending map[string]*PendingRegistration // keyed by card ID
	nextID  int64

	// Err, when set, is returned by every operation
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		drivers: make(map[int64]*Driver),
		pending: make(map[string]*PendingRegistration),
	}
}

// SetError makes every subsequent call fail with err (nil clears it).
func (m *MockStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// GetDriver retrieves a driver by id.
func (m *MockStore) GetDriver(ctx context.Context, id int64) (*Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *d
	return &result, nil
}

// UpsertDriver stores a driver.
func (m *MockStore) UpsertDriver(ctx context.Context, driver *Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	d := *driver
	m.drivers[d.ID] = &d
	return nil
}

// GetActiveCard returns the newest live record for a card.
func (m *MockStore) GetActiveCard(ctx context.Context, cardID string) (*CardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	rec := m.activeCardLocked(cardID)
	if rec == nil {
		return nil, ErrNotFound
	}
	result := *rec
	return &result, nil
}

func (m *MockStore) activeCardLocked(cardID string) *CardRecord {
	var newest *CardRecord
	for _, rec := range m.cards {
		if rec.CardID != cardID || rec.Deleted {
			continue
		}
		if newest == nil || rec.Date.After(newest.Date) {
			newest = rec
		}
	}
	return newest
}

// ReservePending reserves a driver for a card unless a live record exists.
func (m *MockStore) ReservePending(ctx context.Context, cardID string, driverID int64, at time.Time) (*CardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if existing := m.activeCardLocked(cardID); existing != nil {
		result := *existing
		return &result, ErrCardRegistered
	}
	id := driverID
	m.pending[cardID] = &PendingRegistration{
		CardID:           cardID,
		ReservedDriverID: &id,
		ReservationTime:  at.UTC(),
	}
	return nil, nil
}

// CancelPending clears a reservation.
func (m *MockStore) CancelPending(ctx context.Context, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if p, ok := m.pending[cardID]; ok {
		p.ReservedDriverID = nil
		p.Completed = false
	}
	return nil
}

// CompletePending marks a reservation completed.
func (m *MockStore) CompletePending(ctx context.Context, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if p, ok := m.pending[cardID]; ok {
		p.Completed = true
	}
	return nil
}

// GetPending returns a copy of the pending row for a card.
func (m *MockStore) GetPending(ctx context.Context, cardID string) (*PendingRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.pending[cardID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPending(p), nil
}

// ListPending mirrors the SQLite query semantics.
func (m *MockStore) ListPending(ctx context.Context, since time.Time) ([]*PendingRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}

	var result []*PendingRegistration
	for _, p := range m.pending {
		if p.Completed || p.ReservationTime.Before(since) {
			continue
		}
		if m.registeredSinceLocked(p.CardID, p.ReservationTime) {
			continue
		}
		result = append(result, copyPending(p))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ReservationTime.After(result[j].ReservationTime)
	})
	return result, nil
}

func (m *MockStore) registeredSinceLocked(cardID string, at time.Time) bool {
	for _, rec := range m.cards {
		if rec.CardID == cardID && !rec.Deleted && !rec.Date.Before(at) {
			return true
		}
	}
	return false
}

// FinalizeCard writes a permanent record unless a live one exists.
func (m *MockStore) FinalizeCard(ctx context.Context, cardID string, driverID int64, at time.Time) (*CardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if existing := m.activeCardLocked(cardID); existing != nil {
		result := *existing
		return &result, ErrCardRegistered
	}

	m.nextID++
	rec := &CardRecord{
		ID:       m.nextID,
		CardID:   cardID,
		DriverID: driverID,
		Date:     at.UTC(),
	}
	m.cards = append(m.cards, rec)
	if p, ok := m.pending[cardID]; ok {
		p.Completed = true
	}

	result := *rec
	return &result, nil
}

// CardRecords returns a copy of every permanent record for a card, deleted or not.
func (m *MockStore) CardRecords(cardID string) []CardRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []CardRecord
	for _, rec := range m.cards {
		if rec.CardID == cardID {
			result = append(result, *rec)
		}
	}
	return result
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func copyPending(p *PendingRegistration) *PendingRegistration {
	result := *p
	if p.ReservedDriverID != nil {
		id := *p.ReservedDriverID
		result.ReservedDriverID = &id
	}
	return &result
}
