package emergency

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/beacon/internal/notify"
)

// Metrics holds Prometheus metrics for the emergency subsystem.
type Metrics struct {
	ActivationsTotal   *prometheus.CounterVec
	ResolutionsTotal   *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	DispatchDuration   prometheus.Histogram
	DispatchContacts   prometheus.Histogram
	DispatchOutcomes   prometheus.Histogram
}

// NewMetrics registers and returns emergency metrics on the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActivationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_alert_activations_total",
			Help: "Total alert activation attempts by result.",
		}, []string{"result"}),
		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_alert_resolutions_total",
			Help: "Total alert lifecycle transitions by final status.",
		}, []string{"status"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_notifications_total",
			Help: "Total channel delivery attempts by channel and status.",
		}, []string{"channel", "status"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_dispatch_duration_seconds",
			Help:    "Wall time of a full notification fan-out.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		DispatchContacts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_dispatch_contacts",
			Help:    "Contacts notified per activation.",
			Buckets: prometheus.LinearBuckets(1, 1, 10), // 1 .. 10
		}),
		DispatchOutcomes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_dispatch_outcomes",
			Help:    "Channel attempts per activation.",
			Buckets: prometheus.LinearBuckets(1, 2, 12), // 1 .. 23
		}),
	}

	reg.MustRegister(
		m.ActivationsTotal,
		m.ResolutionsTotal,
		m.NotificationsTotal,
		m.DispatchDuration,
		m.DispatchContacts,
		m.DispatchOutcomes,
	)

	return m
}

// Hooks returns dispatcher hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() notify.Hooks {
	return notify.Hooks{
		OnAttempt: func(channel, status string) {
			m.NotificationsTotal.WithLabelValues(channel, status).Inc()
		},
		OnDispatch: func(contacts, outcomes int, duration float64) {
			m.DispatchDuration.Observe(duration)
			m.DispatchContacts.Observe(float64(contacts))
			m.DispatchOutcomes.Observe(float64(outcomes))
		},
	}
}
