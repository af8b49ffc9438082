package publisher

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/scientist/pkg/experiment"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"))
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func matchResult(name string) experiment.Result[any] {
	return experiment.Result[any]{
		Name:      name,
		Control:   experiment.NewSuccess[any](experiment.ControlName, testStart, 2*time.Millisecond, 42),
		Candidate: experiment.NewSuccess[any](experiment.CandidateName, testStart, 3*time.Millisecond, 42),
		Matched:   true,
	}
}

func mismatchResult(name string) experiment.Result[any] {
	return experiment.Result[any]{
		Name:      name,
		Control:   experiment.NewSuccess[any](experiment.ControlName, testStart, time.Millisecond, 42),
		Candidate: experiment.NewSuccess[any](experiment.CandidateName, testStart, time.Millisecond, 43),
		Tags:      map[string]any{"tenant": "fake"},
	}
}

func candidateFaultResult(name string) experiment.Result[any] {
	return experiment.Result[any]{
		Name:      name,
		Control:   experiment.NewSuccess[any](experiment.ControlName, testStart, time.Millisecond, 42),
		Candidate: experiment.NewFailure[any](experiment.CandidateName, testStart, 5*time.Millisecond, errors.New("candidate failed")),
	}
}

func TestInMemory(t *testing.T) {
	m := NewInMemory()
	require.NoError(t, m.Publish(context.Background(), matchResult("a")))
	require.NoError(t, m.Publish(context.Background(), mismatchResult("b")))

	assert.Len(t, m.Results(), 2)

	r, ok := m.Find("b")
	require.True(t, ok)
	assert.False(t, r.Matched)

	_, ok = m.Find("c")
	assert.False(t, ok)

	m.Reset()
	assert.Empty(t, m.Results())
}

func TestInMemory_WithExperiment(t *testing.T) {
	m := NewInMemory()
	e, err := experiment.New[int]("success", experiment.WithPublisher(m))
	require.NoError(t, err)
	e.Use(func() (int, error) { return 42, nil })
	e.Try(func() (int, error) { return 42, nil })

	v, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	r, ok := m.Find("success")
	require.True(t, ok)
	assert.True(t, r.Matched)
	cv, _ := r.Control.Value()
	assert.Equal(t, 42, cv)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(log.NewLogfmtLogger(&buf))

	require.NoError(t, l.Publish(context.Background(), mismatchResult("lookup")))
	line := buf.String()
	assert.Contains(t, line, "level=info")
	assert.Contains(t, line, "experiment=lookup")
	assert.Contains(t, line, "outcome=mismatch")
	assert.Contains(t, line, "control_value=42")
	assert.Contains(t, line, "candidate_value=43")
	assert.Contains(t, line, "tenant=fake")

	buf.Reset()
	require.NoError(t, l.Publish(context.Background(), candidateFaultResult("lookup")))
	assert.Contains(t, buf.String(), `candidate_err="candidate failed"`)

	buf.Reset()
	require.NoError(t, l.Publish(context.Background(), matchResult("lookup")))
	assert.Contains(t, buf.String(), "level=debug")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Publish(context.Background(), matchResult("lookup")))
	require.NoError(t, m.Publish(context.Background(), matchResult("lookup")))
	require.NoError(t, m.Publish(context.Background(), mismatchResult("lookup")))
	require.NoError(t, m.Publish(context.Background(), candidateFaultResult("lookup")))

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
		# HELP scientist_experiment_runs_total Total number of experiment runs by outcome.
		# TYPE scientist_experiment_runs_total counter
		scientist_experiment_runs_total{experiment="lookup",result="candidate_fault"} 1
		scientist_experiment_runs_total{experiment="lookup",result="match"} 2
		scientist_experiment_runs_total{experiment="lookup",result="mismatch"} 1
	`), "scientist_experiment_runs_total"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.branchDuration))
}

func TestInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewInstrumentMetrics(reg)

	ok := Instrument("ok", NewInMemory(), metrics)
	failing := Instrument("failing", experiment.PublisherFunc(func(context.Context, experiment.Result[any]) error {
		return errors.New("unavailable")
	}), metrics)

	require.NoError(t, ok.Publish(context.Background(), matchResult("a")))
	require.Error(t, failing.Publish(context.Background(), matchResult("a")))

	assert.Equal(t, 2, testutil.CollectAndCount(metrics.publishDuration))
}

func TestTee(t *testing.T) {
	assert.NotNil(t, NewTee())

	single := NewInMemory()
	assert.Same(t, single, NewTee(single))

	a, b := NewInMemory(), NewInMemory()
	errFailing := errors.New("unavailable")
	p := NewTee(
		a,
		experiment.PublisherFunc(func(context.Context, experiment.Result[any]) error { return errFailing }),
		experiment.PublisherFunc(func(context.Context, experiment.Result[any]) error { panic("exploded") }),
		b,
	)

	err := p.Publish(context.Background(), matchResult("tee"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), errFailing.Error())
	assert.Contains(t, err.Error(), "publisher panicked: exploded")

	assert.Len(t, a.Results(), 1)
	assert.Len(t, b.Results(), 1)
}

func TestRecord_Marshal(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC)

	buf, err := NewRecord(candidateFaultResult("lookup"), now).Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"experiment": "lookup",
		"outcome": "candidate_fault",
		"matched": false,
		"ignored": false,
		"control": {"value": 42, "has_value": true, "started_at": "2024-03-01T12:00:00Z", "duration_ms": 1},
		"candidate": {"value": null, "has_value": false, "error": "candidate failed", "error_type": "*errors.errorString", "started_at": "2024-03-01T12:00:00Z", "duration_ms": 5},
		"published_at": "2024-03-01T12:00:01Z"
	}`, string(buf))

	zeroes := experiment.Result[any]{
		Name:      "zeroes",
		Control:   experiment.NewSuccess[any](experiment.ControlName, testStart, 0, 0),
		Candidate: experiment.NewSuccess[any](experiment.CandidateName, testStart, 0, nil),
	}
	buf, err = NewRecord(zeroes, now).Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"control":{"value":0,"has_value":true`)
	assert.Contains(t, string(buf), `"candidate":{"value":null,"has_value":true`)

	unencodable := experiment.Result[any]{
		Name:      "channels",
		Control:   experiment.NewSuccess[any](experiment.ControlName, testStart, 0, make(chan int)),
		Candidate: experiment.NewSuccess[any](experiment.CandidateName, testStart, 0, 1),
	}
	buf, err = NewRecord(unencodable, now).Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(buf), `"candidate":{"value":"1"`)
}
