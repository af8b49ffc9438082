package publisher

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/scientist/pkg/experiment"
)

// Metrics exports run outcomes and branch durations to Prometheus.
type Metrics struct {
	runsTotal      *prometheus.CounterVec
	branchDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		runsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "scientist",
			Name:      "experiment_runs_total",
			Help:      "Total number of experiment runs by outcome.",
		}, []string{"experiment", "result"}),
		branchDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scientist",
			Name:      "branch_duration_seconds",
			Help:      "Time spent running the control and candidate branches.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"experiment", "branch"}),
	}
}

func (m *Metrics) Publish(_ context.Context, r experiment.Result[any]) error {
	m.runsTotal.WithLabelValues(r.Name, r.Outcome()).Inc()
	m.branchDuration.WithLabelValues(r.Name, experiment.ControlName).Observe(r.Control.Duration().Seconds())
	m.branchDuration.WithLabelValues(r.Name, experiment.CandidateName).Observe(r.Candidate.Duration().Seconds())
	return nil
}
