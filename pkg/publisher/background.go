package publisher

import (
	"context"
	"errors"
	"flag"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/scientist/pkg/experiment"
)

var errNotRunning = errors.New("background publisher is not running")

// BackgroundConfig is config for a Background publisher.
type BackgroundConfig struct {
	Enabled             bool `yaml:"enabled"`
	WriteBackGoroutines int  `yaml:"writeback_goroutines"`
	WriteBackBuffer     int  `yaml:"writeback_buffer"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *BackgroundConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+"background.enabled", false, "Publish results from background goroutines so that publishing never delays the caller.")
	f.IntVar(&cfg.WriteBackGoroutines, prefix+"background.write-back-goroutines", 4, "How many goroutines to use to publish results.")
	f.IntVar(&cfg.WriteBackBuffer, prefix+"background.write-back-buffer", 10000, "How many results to buffer before dropping them.")
}

// Background publishes results from a pool of goroutines. Publish only
// enqueues; a full queue drops the result.
type Background struct {
	services.Service

	cfg    BackgroundConfig
	next   experiment.Publisher
	logger log.Logger
	queue  chan experiment.Result[any]

	// stopping is set under mtx before the writers drain. Publish holds the
	// read lock while enqueueing, so nothing is queued after the final drain.
	mtx      sync.RWMutex
	stopping bool
	stopped  chan struct{}

	droppedWriteBack prometheus.Counter
	queueLength      prometheus.Gauge
}

// NewBackground returns a Background publisher in front of next. It has to
// be started before results are accepted.
func NewBackground(cfg BackgroundConfig, next experiment.Publisher, logger log.Logger, reg prometheus.Registerer) *Background {
	if cfg.WriteBackGoroutines <= 0 {
		cfg.WriteBackGoroutines = 1
	}
	b := &Background{
		cfg:     cfg,
		next:    next,
		logger:  logger,
		queue:   make(chan experiment.Result[any], cfg.WriteBackBuffer),
		stopped: make(chan struct{}),
		droppedWriteBack: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "scientist",
			Name:      "publish_dropped_total",
			Help:      "Total count of results dropped because the background queue was full.",
		}),
		queueLength: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "scientist",
			Name:      "publish_queue_length",
			Help:      "Length of the background publish queue.",
		}),
	}
	b.Service = services.NewBasicService(nil, b.running, nil)
	return b
}

// Publish enqueues the result.
func (b *Background) Publish(_ context.Context, r experiment.Result[any]) error {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	if b.stopping || b.State() != services.Running {
		b.droppedWriteBack.Inc()
		return errNotRunning
	}
	select {
	case b.queue <- r:
		b.queueLength.Inc()
	default:
		b.droppedWriteBack.Inc()
	}
	return nil
}

func (b *Background) running(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(b.cfg.WriteBackGoroutines)
	for i := 0; i < b.cfg.WriteBackGoroutines; i++ {
		go func() {
			defer wg.Done()
			b.writeBackLoop()
		}()
	}

	<-ctx.Done()
	b.mtx.Lock()
	b.stopping = true
	b.mtx.Unlock()
	close(b.stopped)

	wg.Wait()
	return nil
}

func (b *Background) writeBackLoop() {
	for {
		select {
		case r := <-b.queue:
			b.write(r)
		case <-b.stopped:
			b.drain()
			return
		}
	}
}

// drain publishes whatever is still queued once the service is stopping.
func (b *Background) drain() {
	for {
		select {
		case r := <-b.queue:
			b.write(r)
		default:
			return
		}
	}
}

func (b *Background) write(r experiment.Result[any]) {
	b.queueLength.Dec()
	if err := publishSafely(context.Background(), b.next, r); err != nil {
		level.Error(b.logger).Log("msg", "error publishing experiment result", "experiment", r.Name, "err", err)
	}
}
