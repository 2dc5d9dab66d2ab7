// Package metrics exposes Prometheus collectors for the bot's control plane.
//
// Every recording method is safe to call on a nil *Metrics so components can
// be constructed without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Registry holds every collector below and backs the /metrics endpoint.
	Registry *prometheus.Registry

	// TicketsOpen is the number of open support tickets.
	TicketsOpen prometheus.Gauge

	// TicketEvents counts ticket lifecycle events.
	// Labels: event (opened|closed|orphaned|failed)
	TicketEvents *prometheus.CounterVec

	// StickyReposts counts sticky messages re-sent after a channel message.
	StickyReposts prometheus.Counter

	// StickyActive is the number of channels with a sticky message.
	StickyActive prometheus.Gauge

	// VerificationOutcomes counts resolved challenges.
	// Labels: outcome (verified|timed_out)
	VerificationOutcomes *prometheus.CounterVec

	// PresenceUpdates counts presence rotation ticks.
	// Labels: status (success|error)
	PresenceUpdates *prometheus.CounterVec

	// DashboardClients is the number of connected dashboard sockets.
	DashboardClients prometheus.Gauge

	// TransportCalls counts calls into the chat transport.
	// Labels: op, status (success|error)
	TransportCalls *prometheus.CounterVec
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TicketsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dashbot_tickets_open",
			Help: "Number of open support tickets",
		}),
		TicketEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dashbot_ticket_events_total",
			Help: "Ticket lifecycle events",
		}, []string{"event"}),
		StickyReposts: factory.NewCounter(prometheus.CounterOpts{
			Name: "dashbot_sticky_reposts_total",
			Help: "Sticky messages re-sent after a channel message",
		}),
		StickyActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dashbot_sticky_channels",
			Help: "Channels with an active sticky message",
		}),
		VerificationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dashbot_verification_outcomes_total",
			Help: "Resolved verification challenges",
		}, []string{"outcome"}),
		PresenceUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dashbot_presence_updates_total",
			Help: "Presence rotation ticks",
		}, []string{"status"}),
		DashboardClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dashbot_dashboard_clients",
			Help: "Connected dashboard websocket clients",
		}),
		TransportCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dashbot_transport_calls_total",
			Help: "Calls into the chat transport",
		}, []string{"op", "status"}),
	}
}

func (m *Metrics) TicketOpened() {
	if m == nil {
		return
	}
	m.TicketsOpen.Inc()
	m.TicketEvents.WithLabelValues("opened").Inc()
}

// TicketRemoved records a ticket leaving the registry; event is closed or orphaned.
func (m *Metrics) TicketRemoved(event string) {
	if m == nil {
		return
	}
	m.TicketsOpen.Dec()
	m.TicketEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) TicketFailed() {
	if m == nil {
		return
	}
	m.TicketEvents.WithLabelValues("failed").Inc()
}

func (m *Metrics) StickyReposted() {
	if m == nil {
		return
	}
	m.StickyReposts.Inc()
}

func (m *Metrics) StickyCount(n int) {
	if m == nil {
		return
	}
	m.StickyActive.Set(float64(n))
}

func (m *Metrics) VerificationResolved(outcome string) {
	if m == nil {
		return
	}
	m.VerificationOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PresenceUpdated(err error) {
	if m == nil {
		return
	}
	m.PresenceUpdates.WithLabelValues(statusLabel(err)).Inc()
}

func (m *Metrics) DashboardClientCount(n int) {
	if m == nil {
		return
	}
	m.DashboardClients.Set(float64(n))
}

func (m *Metrics) TransportCall(op string, err error) {
	if m == nil {
		return
	}
	m.TransportCalls.WithLabelValues(op, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
