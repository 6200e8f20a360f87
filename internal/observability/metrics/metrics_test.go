package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestConversationMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConversationMetrics(reg)
	m.ObserveTurn("greeting", "provide_field")
	m.ObserveDigression()
	m.ObserveBooking("confirmed")
	m.ObserveSlotQuery("found")
	m.ObserveTurnLatency("confirming", 0.25)
}

func TestConversationMetricsNilSafe(t *testing.T) {
	var m *ConversationMetrics
	m.ObserveTurn("greeting", "unclear")
	m.ObserveDigression()
	m.ObserveBooking("conflict")
	m.ObserveSlotQuery("exhausted")
	m.ObserveTurnLatency("greeting", 0.1)
}
