package experiment

import (
	"context"
	"sync"
)

// AsyncExperiment is the concurrent variant of Experiment. The control and
// candidate run on their own goroutines; the result is published once both
// have returned.
type AsyncExperiment[T any] struct {
	core[T]

	control   func(context.Context) (T, error)
	candidate func(context.Context) (T, error)
}

// NewAsync returns an async experiment with the given name.
func NewAsync[T any](name string, opts ...Option) (*AsyncExperiment[T], error) {
	c, err := newCore[T](name, opts)
	if err != nil {
		return nil, err
	}
	return &AsyncExperiment[T]{core: c}, nil
}

func (e *AsyncExperiment[T]) Use(fn func(context.Context) (T, error)) {
	e.controls++
	e.control = fn
}

func (e *AsyncExperiment[T]) Try(fn func(context.Context) (T, error)) {
	e.candidates++
	e.candidate = fn
}

// Run starts the experiment and blocks until both branches have returned and
// the result was published.
func (e *AsyncExperiment[T]) Run(ctx context.Context) (T, error) {
	f := e.Start(ctx)
	<-f.Done()
	return f.outcome()
}

// Start schedules both branches and returns immediately. Cancelling ctx
// cancels both branches; a branch that gives up because of it is recorded as
// a fault.
func (e *AsyncExperiment[T]) Start(ctx context.Context) *Future[T] {
	f := newFuture[T]()
	if err := e.validate(e.control != nil, e.candidate != nil); err != nil {
		f.fail(err)
		return f
	}

	// Disabled by RunIf: control only, nothing published.
	if !e.enabled() {
		go func() {
			f.resolve(e.observe(ControlName, func() (T, error) { return e.control(ctx) }))
		}()
		return f
	}

	go func() {
		var control, candidate Observation[T]
		if ctx.Err() != nil {
			control = e.cancelled(ctx, ControlName)
			candidate = e.cancelled(ctx, CandidateName)
		} else {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				control = e.observe(ControlName, func() (T, error) { return e.control(ctx) })
			}()
			go func() {
				defer wg.Done()
				candidate = e.observe(CandidateName, func() (T, error) { return e.candidate(ctx) })
			}()
			wg.Wait()
		}

		e.conclude(ctx, control, candidate)
		f.resolve(control)
	}()
	return f
}

func (e *AsyncExperiment[T]) cancelled(ctx context.Context, name string) Observation[T] {
	var zero T
	return newObservation(name, e.opts.now(), 0, zero, newFault(context.Cause(ctx)))
}

// Future is the pending outcome of an AsyncExperiment.
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	value T
	err   error
	fault *Fault
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// FailedFuture returns a future that is already resolved with err.
func FailedFuture[T any](err error) *Future[T] {
	f := newFuture[T]()
	f.fail(err)
	return f
}

func (f *Future[T]) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *Future[T]) resolve(control Observation[T]) {
	f.once.Do(func() {
		f.value = control.value
		f.fault = control.fault
		if control.fault != nil {
			f.err = control.fault.Err
		}
		close(f.done)
	})
}

// Done is closed once the control outcome is available and the result has
// been published.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the experiment finished and returns the control's value
// or error. ctx only bounds the wait; the experiment keeps running if it
// expires. A control panic is resumed on the calling goroutine.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.outcome()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) outcome() (T, error) {
	if f.fault != nil && f.fault.Panic {
		panic(f.fault.PanicValue)
	}
	if f.err != nil {
		var zero T
		return zero, f.err
	}
	return f.value, nil
}
