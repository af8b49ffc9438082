package experiment

import "context"

// Outcomes a Result can be classified as.
const (
	OutcomeMatch          = "match"
	OutcomeMismatch       = "mismatch"
	OutcomeIgnored        = "ignored"
	OutcomeControlFault   = "control_fault"
	OutcomeCandidateFault = "candidate_fault"
)

// Result pairs the control and candidate observations of one run with the
// verdict. It is built once per run and handed to the Publisher.
type Result[T any] struct {
	Name      string
	Control   Observation[T]
	Candidate Observation[T]

	// Matched is true iff both branches succeeded and the comparator
	// considered the values equivalent. Faults never match.
	Matched bool

	// Ignored is set for a mismatch that an ignore predicate accepted.
	Ignored bool

	// CompareErr is set when the comparator panicked.
	CompareErr error

	Tags map[string]any
}

// Outcome classifies the result. Control faults take precedence over
// candidate faults.
func (r Result[T]) Outcome() string {
	switch {
	case !r.Control.Succeeded():
		return OutcomeControlFault
	case !r.Candidate.Succeeded():
		return OutcomeCandidateFault
	case r.Matched:
		return OutcomeMatch
	case r.Ignored:
		return OutcomeIgnored
	default:
		return OutcomeMismatch
	}
}

// Any erases the value type so that results of any experiment can be handed
// to the same Publisher.
func (r Result[T]) Any() Result[any] {
	return Result[any]{
		Name:       r.Name,
		Control:    r.Control.Any(),
		Candidate:  r.Candidate.Any(),
		Matched:    r.Matched,
		Ignored:    r.Ignored,
		CompareErr: r.CompareErr,
		Tags:       r.Tags,
	}
}

// Publisher consumes finished results. Errors returned by Publish are logged
// and counted by the experiment, never returned to the caller of Run.
type Publisher interface {
	Publish(ctx context.Context, result Result[any]) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, result Result[any]) error

func (f PublisherFunc) Publish(ctx context.Context, result Result[any]) error {
	return f(ctx, result)
}

// NopPublisher discards every result.
var NopPublisher Publisher = PublisherFunc(func(context.Context, Result[any]) error { return nil })
