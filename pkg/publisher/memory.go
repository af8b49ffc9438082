package publisher

import (
	"context"
	"sync"

	"github.com/grafana/scientist/pkg/experiment"
)

// InMemory keeps every published result. It is meant for tests and for
// processes that inspect results themselves.
type InMemory struct {
	mtx     sync.RWMutex
	results []experiment.Result[any]
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Publish(_ context.Context, r experiment.Result[any]) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.results = append(m.results, r)
	return nil
}

// Results returns a copy of the published results in publishing order.
func (m *InMemory) Results() []experiment.Result[any] {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return append([]experiment.Result[any](nil), m.results...)
}

// Find returns the first result published for the named experiment.
func (m *InMemory) Find(name string) (experiment.Result[any], bool) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	for _, r := range m.results {
		if r.Name == name {
			return r, true
		}
	}
	return experiment.Result[any]{}, false
}

func (m *InMemory) Reset() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.results = nil
}
