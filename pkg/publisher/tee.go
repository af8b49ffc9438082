package publisher

import (
	"context"
	"fmt"
	"sync"

	"github.com/grafana/dskit/multierror"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/scientist/pkg/experiment"
)

type tee []experiment.Publisher

// NewTee makes a publisher that hands every result to all publishers
// concurrently and waits for them.
func NewTee(publishers ...experiment.Publisher) experiment.Publisher {
	switch len(publishers) {
	case 0:
		return experiment.NopPublisher
	case 1:
		return publishers[0]
	}
	return tee(publishers)
}

func (t tee) Publish(ctx context.Context, r experiment.Result[any]) error {
	var (
		g    errgroup.Group
		mtx  sync.Mutex
		errs multierror.MultiError
	)
	for _, p := range t {
		g.Go(func() error {
			if err := publishSafely(ctx, p, r); err != nil {
				mtx.Lock()
				errs.Add(err)
				mtx.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs.Err()
}

// publishSafely turns a publisher panic into an error so that it cannot take
// down the goroutine it runs on.
func publishSafely(ctx context.Context, p experiment.Publisher, r experiment.Result[any]) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("publisher panicked: %v", rec)
		}
	}()
	return p.Publish(ctx, r)
}
