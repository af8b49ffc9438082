package publisher

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/scientist/pkg/experiment"
)

// Log writes one line per result. Matches are logged at debug level,
// everything else at info.
type Log struct {
	logger log.Logger
}

func NewLog(logger log.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, r experiment.Result[any]) error {
	outcome := r.Outcome()
	lvl := level.Info
	if outcome == experiment.OutcomeMatch {
		lvl = level.Debug
	}

	kvs := []any{
		"msg", "experiment result",
		"experiment", r.Name,
		"outcome", outcome,
		"matched", r.Matched,
		"control_duration", r.Control.Duration(),
		"candidate_duration", r.Candidate.Duration(),
	}
	if err := r.Control.Err(); err != nil {
		kvs = append(kvs, "control_err", err)
	}
	if err := r.Candidate.Err(); err != nil {
		kvs = append(kvs, "candidate_err", err)
	}
	if r.CompareErr != nil {
		kvs = append(kvs, "compare_err", r.CompareErr)
	}
	if outcome == experiment.OutcomeMismatch || outcome == experiment.OutcomeIgnored {
		cv, _ := r.Control.Value()
		dv, _ := r.Candidate.Value()
		kvs = append(kvs, "control_value", fmt.Sprintf("%+v", cv), "candidate_value", fmt.Sprintf("%+v", dv))
	}

	keys := make([]string, 0, len(r.Tags))
	for k := range r.Tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		kvs = append(kvs, k, r.Tags[k])
	}

	return lvl(l.logger).Log(kvs...)
}
