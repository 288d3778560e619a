// ABOUTME: One device socket with buffered, non-blocking outbound delivery.
// ABOUTME: Read pump feeds the event handler; write pump drains the send buffer and pings.

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size; envelopes may carry two encoded images.
	maxMessageSize = 8 << 20
)

var (
	// ErrPeerClosed is returned by Emit after the socket has gone away.
	ErrPeerClosed = errors.New("peer closed")

	// ErrSendBufferFull is returned by Emit when the peer is not keeping up.
	ErrSendBufferFull = errors.New("send buffer full")
)

// peer is a connected socket. It implements agent.Transport.
type peer struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

func newPeer(id string, conn *websocket.Conn, buffer int, logger *slog.Logger) *peer {
	return &peer{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, buffer),
		logger: logger.With("session_id", id),
	}
}

// Emit queues a frame without blocking.
func (p *peer) Emit(event string, data any) error {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}
	return p.safeSend(frame)
}

func (p *peer) safeSend(frame []byte) (err error) {
	// Close may run between the closed check and the send
	defer func() {
		if r := recover(); r != nil {
			err = ErrPeerClosed
		}
	}()

	if p.closed.Load() {
		return ErrPeerClosed
	}
	select {
	case p.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// close stops the write pump exactly once.
func (p *peer) close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.send)
	})
}

// readPump delivers inbound message frames to handle until the socket fails.
func (p *peer) readPump(ctx context.Context, handle func(ctx context.Context, sessionID string, data json.RawMessage)) {
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.logger.Warn("read error", "error", err)
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.logger.Warn("failed to parse frame", "error", err)
			continue
		}

		switch frame.Event {
		case EventMessage:
			if len(frame.Data) == 0 {
				p.logger.Debug("message frame without data")
				continue
			}
			handle(ctx, p.id, frame.Data)
		default:
			p.logger.Debug("ignoring inbound event", "event", frame.Event)
		}
	}
}

// writePump drains the send buffer and keeps the socket alive with pings.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				p.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
