package experiment

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName          = errors.New("experiment name must not be empty")
	ErrNoControl          = errors.New("no control registered")
	ErrNoCandidate        = errors.New("no candidate registered")
	ErrDuplicateControl   = errors.New("control registered more than once")
	ErrDuplicateCandidate = errors.New("candidate registered more than once")
	ErrNilBranch          = errors.New("branch function must not be nil")
	ErrComparatorType     = errors.New("comparator does not match the experiment value type")
)

// ConfigError is returned when an experiment is misconfigured. It is always
// returned before any branch executes and is never published.
type ConfigError struct {
	Experiment string
	Err        error
}

func (e *ConfigError) Error() string {
	if e.Experiment == "" {
		return fmt.Sprintf("invalid experiment: %v", e.Err)
	}
	return fmt.Sprintf("invalid experiment %q: %v", e.Experiment, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configError(name string, err error) error {
	return &ConfigError{Experiment: name, Err: err}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
