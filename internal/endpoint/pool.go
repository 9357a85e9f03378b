// Package endpoint manages the prioritized list of equivalent remote
// data-source endpoints and the current selection.
package endpoint

import (
	"errors"
	"sync"

	"eventflow/internal/model"
)

// ErrNoEndpoints is returned when the pool was constructed empty.
var ErrNoEndpoints = errors.New("no endpoints configured")

// Pool holds an ordered list of endpoints and a round-robin selection
// pointer. Advance is the only mutation of the pointer; reads from the
// status reporter observe a consistent current value.
type Pool struct {
	mu        sync.RWMutex
	endpoints []model.Endpoint
	current   int
}

// NewPool builds a pool over the configured endpoints, in order.
func NewPool(endpoints []model.Endpoint) *Pool {
	eps := make([]model.Endpoint, len(endpoints))
	copy(eps, endpoints)
	for i := range eps {
		if eps[i].Health == "" {
			eps[i].Health = model.HealthUnknown
		}
	}
	return &Pool{endpoints: eps}
}

// Current returns the currently selected endpoint.
func (p *Pool) Current() (model.Endpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.endpoints) == 0 {
		return model.Endpoint{}, ErrNoEndpoints
	}
	return p.endpoints[p.current], nil
}

// Advance round-robins to the next configured endpoint, wrapping, and
// returns the new current.
func (p *Pool) Advance() (model.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.endpoints) == 0 {
		return model.Endpoint{}, ErrNoEndpoints
	}
	p.current = (p.current + 1) % len(p.endpoints)
	return p.endpoints[p.current], nil
}

// Size returns the number of configured endpoints.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// MarkHealthy records the current endpoint as healthy.
func (p *Pool) MarkHealthy() {
	p.mark(model.HealthHealthy)
}

// MarkUnhealthy records the current endpoint as unhealthy.
func (p *Pool) MarkUnhealthy() {
	p.mark(model.HealthUnhealthy)
}

func (p *Pool) mark(h model.EndpointHealth) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.endpoints) == 0 {
		return
	}
	p.endpoints[p.current].Health = h
}

// Describe returns a copy of the ordered endpoint list with current
// health states.
func (p *Pool) Describe() []model.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]model.Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}
