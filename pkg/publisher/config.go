package publisher

import (
	"context"
	"flag"

	"github.com/go-kit/log"
	"github.com/grafana/dskit/multierror"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/scientist/pkg/experiment"
)

// Config for building the publisher of a process.
type Config struct {
	EnableLog     bool `yaml:"enable_log"`
	EnableMetrics bool `yaml:"enable_metrics"`

	Background BackgroundConfig `yaml:"background"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Redis      RedisConfig      `yaml:"redis"`

	// For tests to inject specific implementations.
	Publisher experiment.Publisher `yaml:"-"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("publisher.", f)
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.EnableLog, prefix+"log.enabled", true, "Log every experiment result.")
	f.BoolVar(&cfg.EnableMetrics, prefix+"metrics.enabled", true, "Export experiment results as Prometheus metrics.")

	cfg.Background.RegisterFlagsWithPrefix(prefix, f)
	cfg.MySQL.RegisterFlagsWithPrefix(prefix, f)
	cfg.Redis.RegisterFlagsWithPrefix(prefix, f)
}

func (cfg *Config) Validate() error {
	if cfg.MySQL.Enabled {
		return cfg.MySQL.Validate()
	}
	return nil
}

// New builds the publishers enabled in cfg behind a single Publisher. The
// returned stop function flushes background work and closes connections.
func New(cfg Config, logger log.Logger, reg prometheus.Registerer) (experiment.Publisher, func() error, error) {
	if cfg.Publisher != nil {
		return cfg.Publisher, func() error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var (
		publishers []experiment.Publisher
		closers    []func() error
		instrument = NewInstrumentMetrics(reg)
	)
	closeAll := func() error {
		var errs multierror.MultiError
		for i := len(closers) - 1; i >= 0; i-- {
			errs.Add(closers[i]())
		}
		return errs.Err()
	}

	if cfg.EnableLog {
		publishers = append(publishers, NewLog(logger))
	}
	if cfg.EnableMetrics {
		publishers = append(publishers, NewMetrics(reg))
	}
	if cfg.MySQL.Enabled {
		m, err := NewMySQL(cfg.MySQL, logger)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, m.Close)
		publishers = append(publishers, Instrument("mysql", m, instrument))
	}
	if cfg.Redis.Enabled {
		r := NewRedis(cfg.Redis)
		closers = append(closers, r.Close)
		publishers = append(publishers, Instrument("redis", r, instrument))
	}

	p := NewTee(publishers...)
	if !cfg.Background.Enabled {
		return p, closeAll, nil
	}

	bg := NewBackground(cfg.Background, p, logger, reg)
	if err := services.StartAndAwaitRunning(context.Background(), bg); err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	stop := func() error {
		var errs multierror.MultiError
		errs.Add(services.StopAndAwaitTerminated(context.Background(), bg))
		errs.Add(closeAll())
		return errs.Err()
	}
	return bg, stop, nil
}
