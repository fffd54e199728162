package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	OutcomeMatched   = "matched"
	OutcomeTimedOut  = "timed_out"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// WaiterMetrics describes event-correlation waits.
type WaiterMetrics struct {
	Waits           *prometheus.CounterVec
	WaitDuration    *prometheus.HistogramVec
	MessagesSkipped *prometheus.CounterVec
}

func NewWaiterMetrics(reg prometheus.Registerer) *WaiterMetrics {
	m := &WaiterMetrics{
		Waits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itest_event_waits_total",
				Help: "Event correlation waits by outcome",
			},
			[]string{"topic", "outcome"},
		),
		WaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "itest_event_wait_seconds",
				Help:    "Time from subscription to wait resolution",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"topic"},
		),
		MessagesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itest_event_messages_skipped_total",
				Help: "Messages whose key did not end with the correlation id",
			},
			[]string{"topic"},
		),
	}
	m.Waits = register(reg, m.Waits)
	m.WaitDuration = register(reg, m.WaitDuration)
	m.MessagesSkipped = register(reg, m.MessagesSkipped)
	return m
}

// ObserveWait records one resolved wait.
func (m *WaiterMetrics) ObserveWait(topic, outcome string, elapsedSeconds float64) {
	m.Waits.WithLabelValues(topic, outcome).Inc()
	m.WaitDuration.WithLabelValues(topic).Observe(elapsedSeconds)
}
