package publisher

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/scientist/pkg/experiment"
)

// InstrumentMetrics are shared by every instrumented publisher of a process.
type InstrumentMetrics struct {
	publishDuration *prometheus.HistogramVec
}

func NewInstrumentMetrics(reg prometheus.Registerer) *InstrumentMetrics {
	return &InstrumentMetrics{
		publishDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scientist",
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing experiment results.",
			// Local sinks take microseconds, remote ones up to a second.
			Buckets: prometheus.ExponentialBuckets(0.000016, 4, 8),
		}, []string{"publisher", "status"}),
	}
}

// Instrument returns an instrumented publisher.
func Instrument(name string, p experiment.Publisher, m *InstrumentMetrics) experiment.Publisher {
	return &instrumentedPublisher{
		name:    name,
		next:    p,
		metrics: m,
	}
}

type instrumentedPublisher struct {
	name    string
	next    experiment.Publisher
	metrics *InstrumentMetrics
}

func (i *instrumentedPublisher) Publish(ctx context.Context, r experiment.Result[any]) error {
	start := time.Now()
	err := i.next.Publish(ctx, r)

	status := "success"
	if err != nil {
		status = "error"
	}
	i.metrics.publishDuration.WithLabelValues(i.name, status).Observe(time.Since(start).Seconds())
	return err
}
