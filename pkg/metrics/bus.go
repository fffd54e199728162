package metrics

import "github.com/prometheus/client_golang/prometheus"

// BusMetrics counts traffic seen by harness bus clients.
type BusMetrics struct {
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	PollsEmpty       *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itest_bus_messages_received_total",
				Help: "Messages read from the bus by test subscriptions",
			},
			[]string{"backend", "topic"},
		),
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itest_bus_messages_sent_total",
				Help: "Messages published to the bus by test actions",
			},
			[]string{"backend", "topic"},
		),
		PollsEmpty: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itest_bus_polls_empty_total",
				Help: "Polls that returned no message",
			},
			[]string{"backend"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "itest_bus_errors_total",
				Help: "Bus client errors by operation",
			},
			[]string{"backend", "op"},
		),
	}
	m.MessagesReceived = register(reg, m.MessagesReceived)
	m.MessagesSent = register(reg, m.MessagesSent)
	m.PollsEmpty = register(reg, m.PollsEmpty)
	m.Errors = register(reg, m.Errors)
	return m
}
