package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the booking assistant.
type ConversationMetrics struct {
	turnsTotal       *prometheus.CounterVec
	digressionsTotal prometheus.Counter
	bookingsTotal    *prometheus.CounterVec
	slotQueriesTotal *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total processed conversation turns",
		}, []string{"phase", "intent"}),
		digressionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "digressions_total",
			Help:      "Total digression turns answered from the knowledge layer",
		}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Total booking attempts by outcome",
		}, []string{"outcome"}),
		slotQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "schedule",
			Name:      "slot_queries_total",
			Help:      "Total slot suggestion queries by result",
		}, []string{"result"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "Latency of end-to-end turn processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.digressionsTotal, m.bookingsTotal, m.slotQueriesTotal, m.turnLatency)
	return m
}

func (m *ConversationMetrics) ObserveTurn(phase, intent string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(phase, intent).Inc()
}

func (m *ConversationMetrics) ObserveDigression() {
	if m == nil {
		return
	}
	m.digressionsTotal.Inc()
}

func (m *ConversationMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *ConversationMetrics) ObserveSlotQuery(result string) {
	if m == nil {
		return
	}
	m.slotQueriesTotal.WithLabelValues(result).Inc()
}

func (m *ConversationMetrics) ObserveTurnLatency(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(phase).Observe(seconds)
}
