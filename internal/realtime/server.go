// ABOUTME: HTTP handler that upgrades device connections and drives the session registry.
// ABOUTME: Registers sessions on connect, greets them, routes inbound messages, removes on disconnect.

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/timecard-gateway/internal/agent"
)

// DefaultSendBuffer is the outbound frame buffer per socket.
const DefaultSendBuffer = 256

// Registry is the subset of agent.Manager the socket server needs.
type Registry interface {
	Connect(id, ip string, transport agent.Transport) *agent.Connection
	Remove(id string) (agent.Session, bool)
}

// MessageHandler receives inbound message frames.
type MessageHandler interface {
	Handle(ctx context.Context, sessionID string, raw json.RawMessage)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, sessionID string, raw json.RawMessage)

// Handle calls f.
func (f MessageHandlerFunc) Handle(ctx context.Context, sessionID string, raw json.RawMessage) {
	f(ctx, sessionID, raw)
}

// Options configures a Server.
type Options struct {
	Registry   Registry
	Handler    MessageHandler
	SendBuffer int

	// AllowedOrigins restricts browser origins; empty allows any origin,
	// which is what headless devices need.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Server is the WebSocket endpoint.
type Server struct {
	registry   Registry
	handler    MessageHandler
	sendBuffer int
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	peers map[string]*peer
	wg    sync.WaitGroup
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.SendBuffer
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		registry:   opts.Registry,
		handler:    opts.Handler,
		sendBuffer: buffer,
		logger:     logger.With("component", "realtime"),
		ctx:        ctx,
		cancel:     cancel,
		peers:      make(map[string]*peer),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeHTTP upgrades the request and runs the socket until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		s.logger.Debug("upgrade failed", "error", err)
		return
	}

	id := uuid.New().String()
	p := newPeer(id, conn, s.sendBuffer, s.logger)

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.peers[id] = p
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.registry.Connect(id, clientIP(r), p)
	if err := p.Emit(EventHello, Greeting); err != nil {
		s.logger.Warn("failed to send greeting", "session_id", id, "error", err)
	}

	go p.writePump()
	p.readPump(s.ctx, s.handle)

	s.registry.Remove(id)
	s.mu.Lock()
	delete(s.peers, id)
	s.mu.Unlock()
	p.close()
}

func (s *Server) handle(ctx context.Context, sessionID string, raw json.RawMessage) {
	if s.handler == nil {
		return
	}
	s.handler.Handle(ctx, sessionID, raw)
}

// PeerCount returns the number of open sockets.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close sends a close frame to every socket and waits for their handlers
// to finish or ctx to expire.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	for _, p := range s.peers {
		p.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clientIP returns the first X-Forwarded-For hop, else the remote host.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
