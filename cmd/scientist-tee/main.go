package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"

	"github.com/grafana/scientist/pkg/experiment"
	"github.com/grafana/scientist/pkg/scientist"
	"github.com/grafana/scientist/pkg/util/flagext"
	util_log "github.com/grafana/scientist/pkg/util/log"
)

type Config struct {
	Log       util_log.Config
	Scientist scientist.Config

	ConfigFiles flagext.ConfigFiles

	ExperimentName string
	ControlURL     string
	CandidateURL   string
	Path           string
	Timeout        time.Duration

	KeepRunning bool
	MetricsPort int

	PrintVersion bool
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.Log.RegisterFlags(f)
	cfg.Scientist.RegisterFlags(f)

	f.Var(&cfg.ConfigFiles, "config.file", "YAML file to load the scientist configuration from. Can be repeated.")
	f.StringVar(&cfg.ExperimentName, "experiment.name", "scientist-tee", "Name the comparison is published under.")
	f.StringVar(&cfg.ControlURL, "control.url", "", "Base URL of the control backend. Its response is printed.")
	f.StringVar(&cfg.CandidateURL, "candidate.url", "", "Base URL of the candidate backend.")
	f.StringVar(&cfg.Path, "path", "/", "Path requested from both backends.")
	f.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "How long to wait for each backend.")
	f.BoolVar(&cfg.KeepRunning, "keep-running", false, "Keep serving metrics after the comparison until terminated.")
	f.IntVar(&cfg.MetricsPort, "server.metrics-port", 3500, "Port metrics are exposed on when -keep-running is set.")
	f.BoolVar(&cfg.PrintVersion, "version", false, "Print this builds version information")
}

func (cfg *Config) Validate() error {
	if cfg.ControlURL == "" || cfg.CandidateURL == "" {
		return errors.New("must specify both -control.url and -candidate.url")
	}
	return nil
}

func main() {
	var cfg Config
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if cfg.PrintVersion {
		fmt.Println(version.Print("scientist-tee"))
		os.Exit(0)
	}

	// Flags given on the command line win over the config files.
	if err := scientist.LoadConfig(&cfg.Scientist, cfg.ConfigFiles...); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	cfg.ConfigFiles = nil
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	util_log.InitLogger(&cfg.Log, os.Stderr)

	s, err := scientist.New(cfg.Scientist, util_log.Logger, prometheus.DefaultRegisterer)
	if err != nil {
		level.Error(util_log.Logger).Log("msg", "failed to create scientist", "err", err)
		os.Exit(1)
	}

	err = run(context.Background(), cfg, s, http.DefaultClient, os.Stdout)
	if err != nil {
		level.Error(util_log.Logger).Log("msg", "control request failed", "err", err)
	}

	if cfg.KeepRunning {
		serveMetrics(cfg.MetricsPort, util_log.Logger)
	}

	if stopErr := s.Stop(); stopErr != nil {
		level.Warn(util_log.Logger).Log("msg", "failed to stop publishers", "err", stopErr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// run requests cfg.Path from both backends concurrently, publishes the
// comparison and writes the control's body to out.
func run(ctx context.Context, cfg Config, s *scientist.Scientist, client *http.Client, out io.Writer) error {
	f := scientist.ScienceAsync(ctx, s, cfg.ExperimentName, func(e *experiment.AsyncExperiment[string]) {
		e.Use(func(ctx context.Context) (string, error) {
			return fetch(ctx, client, cfg.ControlURL, cfg.Path, cfg.Timeout)
		})
		e.Try(func(ctx context.Context) (string, error) {
			return fetch(ctx, client, cfg.CandidateURL, cfg.Path, cfg.Timeout)
		})
	})
	body, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, body)
	return err
}

func fetch(ctx context.Context, client *http.Client, base, path string, timeout time.Duration) (string, error) {
	u, err := url.JoinPath(base, path)
	if err != nil {
		return "", errors.Wrapf(err, "invalid backend url %s", base)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "reading response from %s", u)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%s returned %d: %s", u, resp.StatusCode, body)
	}
	return string(body), nil
}

func serveMetrics(port int, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			level.Error(logger).Log("msg", "metrics server failed", "err", err)
		}
	}()

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, syscall.SIGTERM, os.Interrupt)
	<-terminate

	level.Info(logger).Log("msg", "shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
