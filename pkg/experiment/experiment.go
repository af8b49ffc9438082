package experiment

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	ControlName   = "control"
	CandidateName = "candidate"
)

type options struct {
	publisher Publisher
	logger    log.Logger
	metrics   *Metrics
	now       func() time.Time
	tags      map[string]any

	// Comparator[T] of the experiment, checked against T in newCore.
	comparator any
}

// Option configures an Experiment or AsyncExperiment.
type Option func(*options)

func WithPublisher(p Publisher) Option {
	return func(o *options) { o.publisher = p }
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithComparator replaces the default comparator. Building an experiment
// whose value type is not T fails with ErrComparatorType.
func WithComparator[T any](cmp Comparator[T]) Option {
	return func(o *options) {
		if cmp != nil {
			o.comparator = cmp
		}
	}
}

// WithClock replaces time.Now for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTags attaches context to every published result.
func WithTags(tags map[string]any) Option {
	return func(o *options) {
		if o.tags == nil {
			o.tags = make(map[string]any, len(tags))
		}
		maps.Copy(o.tags, tags)
	}
}

// IgnoreFunc reports whether a mismatch between the two observations is
// known and should not be reported as one.
type IgnoreFunc[T any] func(control, candidate Observation[T]) bool

// core holds everything the sync and async variants share: registration
// bookkeeping, verdict computation and publishing.
type core[T any] struct {
	name string
	opts options

	cmp     Comparator[T]
	ignores []IgnoreFunc[T]
	runIf   func() bool

	controls, candidates int
}

func newCore[T any](name string, opts []Option) (core[T], error) {
	if name == "" {
		return core[T]{}, configError(name, ErrEmptyName)
	}
	c := core[T]{
		name: name,
		cmp:  DefaultComparator[T](),
		opts: options{
			publisher: NopPublisher,
			logger:    log.NewNopLogger(),
			now:       time.Now,
		},
	}
	for _, o := range opts {
		o(&c.opts)
	}
	if c.opts.comparator != nil {
		cmp, ok := c.opts.comparator.(Comparator[T])
		if !ok {
			return core[T]{}, configError(name, ErrComparatorType)
		}
		c.cmp = cmp
	}
	c.opts.logger = log.With(c.opts.logger, "experiment", name)
	return c, nil
}

func (c *core[T]) Name() string { return c.name }

// Compare replaces the default comparator.
func (c *core[T]) Compare(cmp Comparator[T]) {
	if cmp != nil {
		c.cmp = cmp
	}
}

// Ignore registers a predicate for mismatches that are expected.
func (c *core[T]) Ignore(fn IgnoreFunc[T]) {
	if fn != nil {
		c.ignores = append(c.ignores, fn)
	}
}

// RunIf registers a switch consulted before every run. When it reports
// false only the control runs, the candidate is skipped and no result is
// published.
func (c *core[T]) RunIf(fn func() bool) {
	c.runIf = fn
}

func (c *core[T]) validate(hasControl, hasCandidate bool) error {
	var err error
	switch {
	case c.controls == 0:
		err = ErrNoControl
	case c.controls > 1:
		err = ErrDuplicateControl
	case !hasControl:
		err = ErrNilBranch
	case c.candidates == 0:
		err = ErrNoCandidate
	case c.candidates > 1:
		err = ErrDuplicateCandidate
	case !hasCandidate:
		err = ErrNilBranch
	}
	if err == nil {
		return nil
	}
	if c.opts.metrics != nil {
		c.opts.metrics.configErrors.WithLabelValues(c.name).Inc()
	}
	return configError(c.name, err)
}

func (c *core[T]) enabled() (enabled bool) {
	if c.runIf == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			level.Warn(c.opts.logger).Log("msg", "run-if check panicked, running control only", "panic", r)
			enabled = false
		}
	}()
	return c.runIf()
}

// observe runs fn and records its outcome. Panics are recovered into the
// observation's fault.
func (c *core[T]) observe(name string, fn func() (T, error)) (o Observation[T]) {
	start := c.opts.now()
	defer func() {
		if r := recover(); r != nil {
			var zero T
			o = newObservation(name, start, c.opts.now().Sub(start), zero, newPanicFault(r))
		}
	}()

	v, err := fn()
	elapsed := c.opts.now().Sub(start)
	if err != nil {
		var zero T
		return newObservation(name, start, elapsed, zero, newFault(err))
	}
	return newObservation(name, start, elapsed, v, nil)
}

// conclude computes the verdict and publishes the result.
func (c *core[T]) conclude(ctx context.Context, control, candidate Observation[T]) Result[T] {
	r := Result[T]{
		Name:      c.name,
		Control:   control,
		Candidate: candidate,
		Tags:      maps.Clone(c.opts.tags),
	}

	if control.Succeeded() && candidate.Succeeded() {
		r.Matched, r.CompareErr = compare(c.cmp, control.value, candidate.value)
		if r.CompareErr != nil {
			level.Warn(c.opts.logger).Log("msg", "comparison failed", "err", r.CompareErr)
			if c.opts.metrics != nil {
				c.opts.metrics.comparatorFailures.WithLabelValues(c.name).Inc()
			}
		}
	}
	if !r.Matched {
		r.Ignored = c.ignored(control, candidate)
	}

	c.publish(ctx, r.Any())
	return r
}

func (c *core[T]) ignored(control, candidate Observation[T]) bool {
	for _, fn := range c.ignores {
		if c.safeIgnore(fn, control, candidate) {
			return true
		}
	}
	return false
}

func (c *core[T]) safeIgnore(fn IgnoreFunc[T], control, candidate Observation[T]) (ignore bool) {
	defer func() {
		if r := recover(); r != nil {
			level.Warn(c.opts.logger).Log("msg", "ignore predicate panicked", "panic", r)
			ignore = false
		}
	}()
	return fn(control, candidate)
}

// publish hands the result to the publisher. Whatever the publisher does,
// the caller's outcome is unaffected.
func (c *core[T]) publish(ctx context.Context, r Result[any]) {
	defer func() {
		if p := recover(); p != nil {
			c.publishFailed(fmt.Errorf("publisher panicked: %v", p))
		}
	}()

	// Results are published even when the caller has given up on the run.
	if err := c.opts.publisher.Publish(context.WithoutCancel(ctx), r); err != nil {
		c.publishFailed(err)
	}
}

func (c *core[T]) publishFailed(err error) {
	level.Error(c.opts.logger).Log("msg", "failed to publish experiment result", "err", err)
	if c.opts.metrics != nil {
		c.opts.metrics.publishFailures.WithLabelValues(c.name).Inc()
	}
}

// controlOutcome returns what the caller of Run sees: the control value or
// the control's error. A control panic is resumed.
func controlOutcome[T any](control Observation[T]) (T, error) {
	if f := control.fault; f != nil {
		if f.Panic {
			panic(f.PanicValue)
		}
		var zero T
		return zero, f.Err
	}
	return control.value, nil
}

// Experiment compares a control and a candidate function run one after the
// other on the calling goroutine. An Experiment must not be configured while
// Run is in flight.
type Experiment[T any] struct {
	core[T]

	control   func() (T, error)
	candidate func() (T, error)
}

// New returns an experiment with the given name. The name must not be empty.
func New[T any](name string, opts ...Option) (*Experiment[T], error) {
	c, err := newCore[T](name, opts)
	if err != nil {
		return nil, err
	}
	return &Experiment[T]{core: c}, nil
}

// Use registers the control. Its outcome is what Run returns.
func (e *Experiment[T]) Use(fn func() (T, error)) {
	e.controls++
	e.control = fn
}

// Try registers the candidate. Its outcome is only observed.
func (e *Experiment[T]) Try(fn func() (T, error)) {
	e.candidates++
	e.candidate = fn
}

// Run executes the control and then the candidate, publishes the result and
// returns the control's value or error. Configuration errors are returned
// before either branch runs.
func (e *Experiment[T]) Run(ctx context.Context) (T, error) {
	if err := e.validate(e.control != nil, e.candidate != nil); err != nil {
		var zero T
		return zero, err
	}
	// Disabled by RunIf: control only, nothing published.
	if !e.enabled() {
		return e.control()
	}

	control := e.observe(ControlName, e.control)
	candidate := e.observe(CandidateName, e.candidate)
	e.conclude(ctx, control, candidate)
	return controlOutcome(control)
}
