package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.TicketOpened()
	m.TicketRemoved("closed")
	m.TicketFailed()
	m.StickyReposted()
	m.StickyCount(3)
	m.VerificationResolved("verified")
	m.PresenceUpdated(nil)
	m.DashboardClientCount(1)
	m.TransportCall("send_message", errors.New("boom"))
}

func TestTicketGauge(t *testing.T) {
	m := New()
	m.TicketOpened()
	m.TicketOpened()
	m.TicketRemoved("closed")

	if got := testutil.ToFloat64(m.TicketsOpen); got != 1 {
		t.Errorf("Expected 1 open ticket, got %v", got)
	}
	if got := testutil.ToFloat64(m.TicketEvents.WithLabelValues("opened")); got != 2 {
		t.Errorf("Expected 2 opened events, got %v", got)
	}
}

func TestTransportCallLabels(t *testing.T) {
	m := New()
	m.TransportCall("delete_message", nil)
	m.TransportCall("delete_message", errors.New("404"))
	m.TransportCall("delete_message", errors.New("429"))

	if got := testutil.ToFloat64(m.TransportCalls.WithLabelValues("delete_message", "success")); got != 1 {
		t.Errorf("Expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.TransportCalls.WithLabelValues("delete_message", "error")); got != 2 {
		t.Errorf("Expected 2 errors, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Each instance owns its registry, so constructing twice must not panic
	// on duplicate registration.
	a := New()
	b := New()
	if a.Registry == b.Registry {
		t.Fatal("Expected distinct registries")
	}
}
