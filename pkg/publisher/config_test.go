package publisher

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	fs := flag.NewFlagSet("test", flag.PanicOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))
	return cfg
}

func TestNew_Defaults(t *testing.T) {
	cfg := defaultConfig(t)
	assert.True(t, cfg.EnableLog)
	assert.True(t, cfg.EnableMetrics)
	assert.False(t, cfg.Background.Enabled)

	reg := prometheus.NewRegistry()
	p, stop, err := New(cfg, log.NewNopLogger(), reg)
	require.NoError(t, err)
	defer func() { require.NoError(t, stop()) }()

	require.NoError(t, p.Publish(context.Background(), matchResult("defaults")))

	n, err := testutil.GatherAndCount(reg, "scientist_experiment_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_InjectedPublisher(t *testing.T) {
	injected := NewInMemory()
	p, stop, err := New(Config{Publisher: injected}, log.NewNopLogger(), prometheus.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, stop())
	assert.Same(t, injected, p)
}

func TestNew_BackgroundRedis(t *testing.T) {
	s := miniredis.RunT(t)

	cfg := defaultConfig(t)
	cfg.EnableLog = false
	cfg.Background.Enabled = true
	cfg.Redis.Enabled = true
	cfg.Redis.Endpoint = s.Addr()
	cfg.Redis.Timeout = time.Second

	reg := prometheus.NewRegistry()
	p, stop, err := New(cfg, log.NewNopLogger(), reg)
	require.NoError(t, err)
	require.IsType(t, &Background{}, p)

	require.NoError(t, p.Publish(context.Background(), mismatchResult("background")))
	require.NoError(t, stop())

	list, err := s.List(cfg.Redis.Key)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0], `"outcome":"mismatch"`)

	n, err := testutil.GatherAndCount(reg, "scientist_publish_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_InvalidMySQLTable(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.MySQL.Enabled = true
	cfg.MySQL.Table = "bad-table"

	_, _, err := New(cfg, log.NewNopLogger(), prometheus.NewRegistry())
	require.Error(t, err)
}
