package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	PatientsCreatedTotal prometheus.Counter
	RequestsOpenedTotal  prometheus.Counter
	RequestsClosedTotal  prometheus.Counter
	UsersRegisteredTotal prometheus.Counter
	LoginsTotal          *prometheus.CounterVec

	SnapshotWriteDuration prometheus.Histogram
}

func NewCollector(serviceName string) *Collector {
	return &Collector{
		PatientsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinic",
			Name:      "patients_created_total",
			Help:      "Total number of patient records created.",
		}),

		RequestsOpenedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinic",
			Name:      "requests_opened_total",
			Help:      "Total medicine requests opened.",
		}),

		RequestsClosedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "clinic",
			Name:      "requests_closed_total",
			Help:      "Total medicine requests resolved.",
		}),

		UsersRegisteredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "users_registered_total",
			Help:      "Total user accounts registered.",
		}),

		LoginsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Total authentication attempts by outcome.",
		}, []string{"outcome"}),

		SnapshotWriteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "store",
			Name:      "snapshot_write_duration_seconds",
			Help:      "File backend full-snapshot write latency distribution.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
	}
}
