package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "medivault"

// Metrics holds the collectors shared by the realtime channel and the
// notification reconciler.
type Metrics struct {
	ChannelTransitions *prometheus.CounterVec
	ReconnectAttempts  prometheus.Counter
	PushEvents         *prometheus.CounterVec
	Refreshes          *prometheus.CounterVec
	Mutations          *prometheus.CounterVec
	Notifications      prometheus.Gauge
	Unread             prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChannelTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "transitions_total",
			Help:      "Realtime channel state transitions by target status.",
		}, []string{"status"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a failed dial.",
		}),
		PushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "push_events_total",
			Help:      "Realtime notification events by outcome.",
		}, []string{"outcome"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "refreshes_total",
			Help:      "REST notification refreshes by outcome.",
		}, []string{"outcome"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "mutations_total",
			Help:      "Notification mutations sent to the server by operation and outcome.",
		}, []string{"op", "outcome"}),
		Notifications: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "items",
			Help:      "Notifications in the reconciled collection.",
		}),
		Unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "unread",
			Help:      "Unread notifications in the reconciled collection.",
		}),
	}

	reg.MustRegister(
		m.ChannelTransitions,
		m.ReconnectAttempts,
		m.PushEvents,
		m.Refreshes,
		m.Mutations,
		m.Notifications,
		m.Unread,
	)
	return m
}

// Discard returns collectors registered on a throwaway registry, for
// components constructed without metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
