// ABOUTME: Represents a connected device and the outbound half of its real-time transport.
// ABOUTME: Emit hands an event to the transport; failures are returned to the caller.

package agent

import (
	"errors"
	"log/slog"
)

// ErrNoTransport is returned by Emit when a connection has no outbound transport.
var ErrNoTransport = errors.New("connection has no transport")

// Transport is implemented by the real-time layer for each live socket.
type Transport interface {
	// Emit queues an event-tagged frame for the peer. It must not block on a
	// slow peer.
	Emit(event string, data any) error
}

// Connection is a device session with an attached transport.
type Connection struct {
	ID string

	transport Transport
	logger    *slog.Logger
}

// NewConnection creates a Connection for the given session id.
func NewConnection(id string, transport Transport, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		ID:        id,
		transport: transport,
		logger:    logger,
	}
}

// Emit sends an event to the device.
func (c *Connection) Emit(event string, data any) error {
	if c.transport == nil {
		return ErrNoTransport
	}
	if err := c.transport.Emit(event, data); err != nil {
		c.logger.Debug("emit failed", "session_id", c.ID, "event", event, "error", err)
		return err
	}
	return nil
}
