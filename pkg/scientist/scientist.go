// Package scientist is the entry point for running experiments: a
// Scientist owns the publisher, logger and metrics shared by every
// experiment of a process, and Science/ScienceAsync build and run one
// experiment against it.
package scientist

import (
	"context"
	"flag"
	"sync"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/scientist/pkg/experiment"
	"github.com/grafana/scientist/pkg/publisher"
	"github.com/grafana/scientist/pkg/util/flagext"
	util_log "github.com/grafana/scientist/pkg/util/log"
)

// Config is the configuration of a Scientist.
type Config struct {
	Publisher publisher.Config `yaml:"publisher"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.Publisher.RegisterFlags(f)
}

// LoadConfig applies the YAML files to cfg in order.
func LoadConfig(cfg *Config, files ...string) error {
	return flagext.ConfigFiles(files).Load(cfg)
}

// Scientist holds what experiments publish to. It is safe for concurrent use.
type Scientist struct {
	publisher experiment.Publisher
	logger    log.Logger
	metrics   *experiment.Metrics
	stop      func() error
}

// New builds the publishers configured in cfg. Stop must be called to flush
// and close them.
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) (*Scientist, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p, stop, err := publisher.New(cfg.Publisher, logger, reg)
	if err != nil {
		return nil, err
	}
	s := NewWithPublisher(p, logger, experiment.NewMetrics(reg))
	s.stop = stop
	return s, nil
}

// NewWithPublisher returns a Scientist publishing to p. metrics may be nil.
func NewWithPublisher(p experiment.Publisher, logger log.Logger, metrics *experiment.Metrics) *Scientist {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Scientist{
		publisher: p,
		logger:    logger,
		metrics:   metrics,
		stop:      func() error { return nil },
	}
}

var defaultScientist = sync.OnceValue(func() *Scientist {
	return NewWithPublisher(publisher.NewLog(util_log.Logger), util_log.Logger, nil)
})

// Default returns the process wide Scientist. It logs results through
// util_log.Logger as it is when Default is first called.
func Default() *Scientist {
	return defaultScientist()
}

func (s *Scientist) Publisher() experiment.Publisher { return s.publisher }

func (s *Scientist) Stop() error { return s.stop() }

func (s *Scientist) options() []experiment.Option {
	return []experiment.Option{
		experiment.WithPublisher(s.publisher),
		experiment.WithLogger(s.logger),
		experiment.WithMetrics(s.metrics),
	}
}

// Science runs a synchronous experiment named name. configure registers the
// control and the candidate. The control's value or error is returned;
// configuration errors are returned before either branch runs. A nil s uses
// Default.
func Science[T any](ctx context.Context, s *Scientist, name string, configure func(e *experiment.Experiment[T])) (T, error) {
	if s == nil {
		s = Default()
	}
	e, err := experiment.New[T](name, s.options()...)
	if err != nil {
		var zero T
		return zero, err
	}
	if configure != nil {
		configure(e)
	}
	return e.Run(ctx)
}

// ScienceAsync is Science for branches that run concurrently. The returned
// future resolves with the control's outcome once both branches returned and
// the result was published.
func ScienceAsync[T any](ctx context.Context, s *Scientist, name string, configure func(e *experiment.AsyncExperiment[T])) *experiment.Future[T] {
	if s == nil {
		s = Default()
	}
	e, err := experiment.NewAsync[T](name, s.options()...)
	if err != nil {
		return experiment.FailedFuture[T](err)
	}
	if configure != nil {
		configure(e)
	}
	return e.Start(ctx)
}
