// ABOUTME: HTTP routes for device sockets, health probes and metrics
// ABOUTME: Built on a chi router with panic recovery

package gateway

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/timecard-gateway/internal/auth"
)

// SocketPath is where devices open their WebSocket.
const SocketPath = "/socket"

// Handler returns the HTTP routes.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	r.Get(SocketPath, g.sockets.ServeHTTP)

	if g.config.Metrics.Enabled {
		var metrics http.Handler = promhttp.HandlerFor(g.metricsReg, promhttp.HandlerOpts{})
		if g.config.Metrics.RequireAuth && g.verifier != nil {
			metrics = auth.HTTPMiddleware(g.verifier, g.logger.With("component", "auth"))(metrics)
		}
		r.Method(http.MethodGet, g.config.Metrics.Path, metrics)
	}
	return r
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one device is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.sessions.Count()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no devices connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d devices)", n)
}
