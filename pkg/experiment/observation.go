package experiment

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

var errUnknownFault = errors.New("unknown fault")

// Fault describes the error a branch failed with.
type Fault struct {
	Err     error
	Type    string
	Message string

	// Set when the branch panicked rather than returning an error.
	Panic      bool
	PanicValue any
	Stack      []byte
}

func newFault(err error) *Fault {
	if err == nil {
		err = errUnknownFault
	}
	return &Fault{
		Err:     err,
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
}

func newPanicFault(r any) *Fault {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	f := newFault(err)
	f.Panic = true
	f.PanicValue = r
	f.Stack = debug.Stack()
	return f
}

func (f *Fault) Error() string { return f.Message }

func (f *Fault) Unwrap() error { return f.Err }

// Observation is the recorded outcome of running one branch once. Exactly
// one of value or fault is set. Observations are never modified after the
// branch returns.
type Observation[T any] struct {
	name     string
	value    T
	hasValue bool
	fault    *Fault
	started  time.Time
	duration time.Duration
}

func newObservation[T any](name string, started time.Time, duration time.Duration, value T, fault *Fault) Observation[T] {
	if duration < 0 {
		duration = 0
	}
	o := Observation[T]{
		name:     name,
		started:  started,
		duration: duration,
	}
	if fault != nil {
		o.fault = fault
		return o
	}
	o.value = value
	o.hasValue = true
	return o
}

// Name is the branch name, "control" or "candidate".
func (o Observation[T]) Name() string { return o.name }

// Value returns the value the branch produced. ok is false if the branch
// faulted. A nil value with ok set is a legitimate result.
func (o Observation[T]) Value() (v T, ok bool) { return o.value, o.hasValue }

func (o Observation[T]) Fault() *Fault { return o.fault }

// Err returns the error the branch returned, or nil.
func (o Observation[T]) Err() error {
	if o.fault == nil {
		return nil
	}
	return o.fault.Err
}

func (o Observation[T]) Succeeded() bool { return o.hasValue }

func (o Observation[T]) Started() time.Time { return o.started }

func (o Observation[T]) Duration() time.Duration { return o.duration }

// Any erases the value type.
func (o Observation[T]) Any() Observation[any] {
	return Observation[any]{
		name:     o.name,
		value:    o.value,
		hasValue: o.hasValue,
		fault:    o.fault,
		started:  o.started,
		duration: o.duration,
	}
}

// NewSuccess builds an observation of a branch that returned v.
func NewSuccess[T any](name string, started time.Time, duration time.Duration, v T) Observation[T] {
	return newObservation(name, started, duration, v, nil)
}

// NewFailure builds an observation of a branch that returned err.
func NewFailure[T any](name string, started time.Time, duration time.Duration, err error) Observation[T] {
	var zero T
	return newObservation(name, started, duration, zero, newFault(err))
}
