// Package service defines the injectable seam the call step uses to invoke
// named external services, and a default process-wide registry
// implementation of it.
package service

import (
	"context"
	"fmt"
	"sync"

	engineerrors "github.com/stepflow/engine/pkg/errors"
)

// Method is one invocable service operation: given an input mapping,
// produce an output mapping or an error. The core never reflects into a
// struct or package to find these — every method is registered explicitly.
type Method func(ctx context.Context, input map[string]any) (map[string]any, error)

// Resolver looks up the Method behind a service name. The call executor
// depends only on this interface, never on a concrete registry, so a host
// process can inject any lookup strategy (RPC dispatch, plugin loading,
// a static map) without changing engine code.
type Resolver interface {
	Resolve(name string) (Method, error)
}

// Registry is the default Resolver: a process-wide, concurrency-safe name
// to Method map, populated by Register before any workflow run that calls
// it.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Method
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Method)}
}

// Register adds or replaces the Method bound to name.
func (r *Registry) Register(name string, m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = m
}

// Resolve implements Resolver.
func (r *Registry) Resolve(name string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.services[name]
	if !ok {
		return nil, &engineerrors.NotFoundError{Resource: "service", ID: name}
	}
	return m, nil
}

// Names returns the currently registered service names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	return names
}

var _ Resolver = (*Registry)(nil)

// ErrNoResolver is returned by a call executor constructed without a
// Resolver.
var ErrNoResolver = fmt.Errorf("service: no resolver configured")
