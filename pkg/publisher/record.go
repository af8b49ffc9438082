package publisher

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/grafana/scientist/pkg/experiment"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is the serialised form of a result used by the storage publishers.
type Record struct {
	Experiment   string         `json:"experiment"`
	Outcome      string         `json:"outcome"`
	Matched      bool           `json:"matched"`
	Ignored      bool           `json:"ignored"`
	Control      BranchRecord   `json:"control"`
	Candidate    BranchRecord   `json:"candidate"`
	CompareError string         `json:"compare_error,omitempty"`
	Tags         map[string]any `json:"tags,omitempty"`
	PublishedAt  time.Time      `json:"published_at"`
}

type BranchRecord struct {
	Value      any       `json:"value"`
	HasValue   bool      `json:"has_value"`
	Error      string    `json:"error,omitempty"`
	ErrorType  string    `json:"error_type,omitempty"`
	Panicked   bool      `json:"panicked,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
}

func newBranchRecord(o experiment.Observation[any]) BranchRecord {
	b := BranchRecord{
		StartedAt:  o.Started(),
		DurationMs: float64(o.Duration()) / float64(time.Millisecond),
	}
	if f := o.Fault(); f != nil {
		b.Error = f.Message
		b.ErrorType = f.Type
		b.Panicked = f.Panic
		return b
	}
	b.Value, b.HasValue = o.Value()
	return b
}

func NewRecord(r experiment.Result[any], now time.Time) Record {
	rec := Record{
		Experiment:  r.Name,
		Outcome:     r.Outcome(),
		Matched:     r.Matched,
		Ignored:     r.Ignored,
		Control:     newBranchRecord(r.Control),
		Candidate:   newBranchRecord(r.Candidate),
		Tags:        r.Tags,
		PublishedAt: now.UTC(),
	}
	if r.CompareErr != nil {
		rec.CompareError = r.CompareErr.Error()
	}
	return rec
}

// Marshal encodes the record as JSON. Values that cannot be encoded are
// replaced by their %+v rendering.
func (r Record) Marshal() ([]byte, error) {
	buf, err := json.Marshal(r)
	if err == nil {
		return buf, nil
	}

	r.Control.Value = stringify(r.Control.Value)
	r.Candidate.Value = stringify(r.Candidate.Value)
	tags := make(map[string]any, len(r.Tags))
	for k, v := range r.Tags {
		tags[k] = stringify(v)
	}
	r.Tags = tags
	return json.Marshal(r)
}

func stringify(v any) any {
	if v == nil {
		return nil
	}
	return fmt.Sprintf("%+v", v)
}
