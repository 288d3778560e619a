// ABOUTME: Concurrent registry of connected device sessions.
// ABOUTME: Tracks connect, disconnect, activity and IP bookkeeping and hands out copies only.

package agent

import (
	"log/slog"
	"sync"
	"time"
)

// Session describes one live device connection.
type Session struct {
	ID           string
	IPAddress    string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// Registry is the session table. Implementations must be safe for
// concurrent use without external locking.
type Registry interface {
	Add(id, ip string)
	Remove(id string) (Session, bool)
	Touch(id string)
	UpdateIP(id, ip string)
	List() []Session
	Count() int
}

type entry struct {
	session Session
	conn    *Connection
}

// Manager is the in-process Registry implementation.
type Manager struct {
	sessions map[string]*entry
	mu       sync.RWMutex
	logger   *slog.Logger
	now      func() time.Time
}

var _ Registry = (*Manager)(nil)

// NewManager creates a new Manager instance.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*entry),
		logger:   logger,
		now:      time.Now,
	}
}

// Add inserts or overwrites a session without a transport.
func (m *Manager) Add(id, ip string) {
	m.add(id, ip, nil)
}

// Connect inserts or overwrites a session and attaches its transport.
func (m *Manager) Connect(id, ip string, transport Transport) *Connection {
	conn := NewConnection(id, transport, m.logger)
	m.add(id, ip, conn)
	return conn
}

func (m *Manager) add(id, ip string, conn *Connection) {
	now := m.now()

	m.mu.Lock()
	m.sessions[id] = &entry{
		session: Session{
			ID:           id,
			IPAddress:    ip,
			ConnectedAt:  now,
			LastActivity: now,
		},
		conn: conn,
	}
	total := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("=== DEVICE CONNECTED ===",
		"session_id", id,
		"ip", ip,
		"total_clients", total,
	)
}

// Remove deletes a session and returns the removed value.
func (m *Manager) Remove(id string) (Session, bool) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	total := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return Session{}, false
	}

	m.logger.Info("=== DEVICE DISCONNECTED ===",
		"session_id", id,
		"ip", e.session.IPAddress,
		"total_clients", total,
	)
	return e.session, true
}

// Touch refreshes last activity. Unknown ids are ignored.
func (m *Manager) Touch(id string) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[id]; ok {
		e.session.LastActivity = now
	}
}

// UpdateIP records a new address for a session and refreshes activity.
func (m *Manager) UpdateIP(id, ip string) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[id]; ok {
		e.session.IPAddress = ip
		e.session.LastActivity = now
	}
}

// Get returns a copy of a single session.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// List returns a snapshot of every live session in no particular order.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	return sessions
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Connections returns a snapshot of every session with an attached transport.
func (m *Manager) Connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Connection, 0, len(m.sessions))
	for _, e := range m.sessions {
		if e.conn != nil {
			conns = append(conns, e.conn)
		}
	}
	return conns
}
