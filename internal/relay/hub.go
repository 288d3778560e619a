// ABOUTME: BroadcastHub delivering one payload to live sessions, subscribers and the webhook.
// ABOUTME: Sink failures are isolated; Relay never fails and reports a delivery summary.

package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/2389/timecard-gateway/internal/agent"
)

// OutboundEvent is the event name every relayed payload is emitted under.
const OutboundEvent = "hello"

// PeerSource lists the connections a relay should reach.
type PeerSource interface {
	Connections() []*agent.Connection
}

// Delivery summarizes one Relay call.
type Delivery struct {
	Sessions    int  // peers the payload was handed to
	Failed      int  // peers whose emit failed
	Subscribers int  // stream subscribers that accepted the payload
	Webhook     bool // a webhook notification was scheduled
}

// HubOptions configures a Hub. Only Peers is required.
type HubOptions struct {
	Peers   PeerSource
	Stream  *EventBroadcaster
	Webhook *WebhookNotifier
	Metrics *Metrics
	Logger  *slog.Logger
}

// Hub is the BroadcastHub.
type Hub struct {
	peers   PeerSource
	stream  *EventBroadcaster
	webhook *WebhookNotifier
	metrics *Metrics
	logger  *slog.Logger
}

// NewHub creates a Hub. A nil Stream gets a default-sized broadcaster.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stream := opts.Stream
	if stream == nil {
		stream = NewEventBroadcaster(DefaultSubscriberBuffer, logger)
	}
	stream.metrics = opts.Metrics
	if opts.Webhook != nil {
		opts.Webhook.metrics = opts.Metrics
	}
	return &Hub{
		peers:   opts.Peers,
		stream:  stream,
		webhook: opts.Webhook,
		metrics: opts.Metrics,
		logger:  logger.With("component", "relay"),
	}
}

// Stream returns the subscriber stream.
func (h *Hub) Stream() *EventBroadcaster {
	return h.stream
}

// Relay delivers payload to every sink. The payload must be JSON text; it is
// emitted to peers as a string.
func (h *Hub) Relay(payload json.RawMessage) Delivery {
	h.metrics.recordRelay()

	var d Delivery
	h.emitToPeers(payload, &d)
	d.Subscribers = h.stream.Publish(payload)
	if h.webhook != nil {
		d.Webhook = h.webhook.Notify(payload)
	}

	h.logger.Debug("relayed event",
		"sessions", d.Sessions,
		"failed", d.Failed,
		"subscribers", d.Subscribers,
		"webhook", d.Webhook,
	)
	return d
}

func (h *Hub) emitToPeers(payload json.RawMessage, d *Delivery) {
	if h.peers == nil {
		return
	}
	text := string(payload)
	for _, conn := range h.peers.Connections() {
		err := conn.Emit(OutboundEvent, text)
		h.metrics.recordPeerEmit(err)
		if err != nil {
			d.Failed++
			h.logger.Warn("failed to emit to session", "session_id", conn.ID, "error", err)
			continue
		}
		d.Sessions++
	}
}

// Close stops the webhook notifier and closes the subscriber stream.
func (h *Hub) Close() {
	if h.webhook != nil {
		h.webhook.Close()
	}
	h.stream.Close()
}
