// ABOUTME: Prometheus counters for relay fan-out, subscriber drops and webhook outcomes.
// ABOUTME: A nil *Metrics is a no-op so tests and embedders can skip registration.

package relay

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds relay counters.
type Metrics struct {
	relayed         prometheus.Counter
	peerEmits       *prometheus.CounterVec
	subscriberDrops prometheus.Counter
	webhookResults  *prometheus.CounterVec
}

// NewMetrics registers relay metrics with reg (the default registerer when nil).
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "timecard"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	relayed, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "events_total",
		Help:      "Payloads handed to the relay.",
	}))
	if err != nil {
		return nil, err
	}
	peerEmits, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "peer_emits_total",
		Help:      "Emits to connected devices by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	drops, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "subscriber_drops_total",
		Help:      "Events dropped for lagging stream subscribers.",
	}))
	if err != nil {
		return nil, err
	}
	webhook, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "webhook_requests_total",
		Help:      "Webhook notifications by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		relayed:         relayed,
		peerEmits:       peerEmits,
		subscriberDrops: drops,
		webhookResults:  webhook,
	}, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register relay metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) recordRelay() {
	if m == nil {
		return
	}
	m.relayed.Inc()
}

func (m *Metrics) recordPeerEmit(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.peerEmits.WithLabelValues("error").Inc()
		return
	}
	m.peerEmits.WithLabelValues("ok").Inc()
}

func (m *Metrics) recordDrop() {
	if m == nil {
		return
	}
	m.subscriberDrops.Inc()
}

func (m *Metrics) recordWebhook(result string) {
	if m == nil {
		return
	}
	m.webhookResults.WithLabelValues(result).Inc()
}
