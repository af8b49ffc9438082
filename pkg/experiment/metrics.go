package experiment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are failures of the experiment machinery itself. Run outcomes are
// exported by the metrics publisher.
type Metrics struct {
	publishFailures    *prometheus.CounterVec
	comparatorFailures *prometheus.CounterVec
	configErrors       *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		publishFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "scientist",
			Name:      "publish_failures_total",
			Help:      "Total number of experiment results the publisher failed to accept.",
		}, []string{"experiment"}),
		comparatorFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "scientist",
			Name:      "comparator_failures_total",
			Help:      "Total number of comparisons that panicked.",
		}, []string{"experiment"}),
		configErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "scientist",
			Name:      "config_errors_total",
			Help:      "Total number of experiment runs rejected because of invalid configuration.",
		}, []string{"experiment"}),
	}
}
