package publisher

import (
	"context"
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/grafana/scientist/pkg/experiment"
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Enabled   bool           `yaml:"enabled"`
	Endpoint  string         `yaml:"endpoint"`
	Password  flagext.Secret `yaml:"password"`
	DB        int            `yaml:"db"`
	Key       string         `yaml:"key"`
	MaxLength int64          `yaml:"max_length"`
	Timeout   time.Duration  `yaml:"timeout"`
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet.
func (cfg *RedisConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.Enabled, prefix+"redis.enabled", false, "Push experiment results to a Redis list.")
	f.StringVar(&cfg.Endpoint, prefix+"redis.endpoint", "localhost:6379", "Redis host:port.")
	f.Var(&cfg.Password, prefix+"redis.password", "Password to use when connecting to Redis.")
	f.IntVar(&cfg.DB, prefix+"redis.db", 0, "Database index.")
	f.StringVar(&cfg.Key, prefix+"redis.key", "scientist:results", "List the results are pushed to.")
	f.Int64Var(&cfg.MaxLength, prefix+"redis.max-length", 100000, "Trim the list to this many results. 0 disables trimming.")
	f.DurationVar(&cfg.Timeout, prefix+"redis.timeout", 500*time.Millisecond, "Maximum time to wait before giving up on Redis requests.")
}

// Redis pushes JSON encoded results to the head of a list.
type Redis struct {
	client    *redis.Client
	key       string
	maxLength int64
	timeout   time.Duration
	now       func() time.Time
}

func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Endpoint,
			Password:     cfg.Password.String(),
			DB:           cfg.DB,
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		}),
		key:       cfg.Key,
		maxLength: cfg.MaxLength,
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
}

func (r *Redis) Publish(ctx context.Context, res experiment.Result[any]) error {
	payload, err := NewRecord(res, r.now()).Marshal()
	if err != nil {
		return errors.Wrap(err, "failed to encode result")
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, payload)
	if r.maxLength > 0 {
		pipe.LTrim(ctx, r.key, 0, r.maxLength-1)
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "failed to push experiment result")
}

func (r *Redis) Close() error {
	return r.client.Close()
}
