// ABOUTME: Routes inbound device envelopes: session bookkeeping, classification, enrichment.
// ABOUTME: Every inbound message is handed to the relay exactly once, whatever its status.

package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/2389/timecard-gateway/internal/agent"
	"github.com/2389/timecard-gateway/internal/relay"
	"github.com/2389/timecard-gateway/internal/store"
)

// Relayer delivers a JSON payload to every broadcast sink.
type Relayer interface {
	Relay(payload json.RawMessage) relay.Delivery
}

// Router handles inbound device events.
type Router struct {
	registry agent.Registry
	drivers  store.DriverStore
	hub      Relayer
	logger   *slog.Logger
}

// NewRouter creates a Router. drivers may be nil, in which case envelopes
// are never enriched.
func NewRouter(registry agent.Registry, drivers store.DriverStore, hub Relayer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		drivers:  drivers,
		hub:      hub,
		logger:   logger.With("component", "events"),
	}
}

// Handle processes one inbound message from sessionID and relays it.
// Enrichment failures are logged; the relay always happens.
func (r *Router) Handle(ctx context.Context, sessionID string, raw json.RawMessage) relay.Delivery {
	if r.registry != nil {
		r.registry.Touch(sessionID)
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		r.logger.Warn("forwarding non-object message as-is", "session_id", sessionID, "error", err)
		return r.hub.Relay(raw)
	}

	if ip := env.IP(); ip != "" && ip != UnknownIP && r.registry != nil {
		r.registry.UpdateIP(sessionID, ip)
	}

	r.Resolve(ctx, env)

	payload, err := env.Encode()
	if err != nil {
		// envelope fields were decoded from valid JSON, so this only trips on
		// a broken SetName; fall back to the bytes we were given
		r.logger.Error("re-encoding envelope", "session_id", sessionID, "error", err)
		payload = raw
	}
	return r.hub.Relay(payload)
}

// Resolve classifies env and applies any enrichment for its status.
// It reports whether the envelope was modified. Lookup failures are logged
// and leave the envelope unchanged.
func (r *Router) Resolve(ctx context.Context, env *Envelope) bool {
	status := env.Status()

	switch status {
	case StatusTempWithoutPicture:
		return r.fillDriverName(ctx, env)
	case StatusTempInserted, StatusTempByCard, StatusTempByFinger:
		r.logger.Debug("temperature event", "status", status)
	case StatusCardLog:
		r.logger.Debug("card log event received")
	case StatusDeleteCard:
		r.logger.Debug("delete card event received")
	default:
		r.logger.Info("unknown status, forwarding as-is", "status", status)
	}
	return false
}

func (r *Router) fillDriverName(ctx context.Context, env *Envelope) bool {
	if env.Name() != "" {
		return false
	}
	id, ok := env.DriverID()
	if !ok || r.drivers == nil {
		return false
	}

	driver, err := r.drivers.GetDriver(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.logger.Warn("driver not found", "driver_id", id)
		return false
	case err != nil:
		r.logger.Error("failed to fetch driver name", "driver_id", id, "error", err)
		return false
	}

	if err := env.SetName(driver.Name); err != nil {
		r.logger.Error("setting driver name", "driver_id", id, "error", err)
		return false
	}
	r.logger.Info("added driver name", "driver_id", id, "name", driver.Name)
	return true
}
