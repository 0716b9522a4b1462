// Package registry holds the transport implementations available to a
// session. Modules register named Fetchers at application startup; the
// session resolves a request's transport name to a Fetcher when its fetch
// stage runs.
package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/reqrelay/internal/model"
)

// Fetcher sends one fully rendered outbound request over a concrete
// transport and returns the raw inbound response.
type Fetcher interface {
	Fetch(ctx context.Context, out *model.Outbound) (*model.Inbound, error)
}

// Module is the interface all transport modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry maps transport names to Fetchers for a single application
// instance.
type Registry struct {
	fetchers map[string]Fetcher
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// RegisterFetcher installs f under the given transport name. Registering
// the same name twice is a programmer error.
func (r *Registry) RegisterFetcher(name string, f Fetcher) {
	if _, dup := r.fetchers[name]; dup {
		panic(fmt.Sprintf("registry: fetcher %q registered twice", name))
	}
	r.fetchers[name] = f
}

// Fetcher resolves a transport name.
func (r *Registry) Fetcher(name string) (Fetcher, error) {
	f, ok := r.fetchers[name]
	if !ok {
		return nil, fmt.Errorf("registry: no fetcher registered for transport %q", name)
	}
	return f, nil
}

// Transports returns the sorted registered transport names.
func (r *Registry) Transports() []string {
	names := make([]string, 0, len(r.fetchers))
	for name := range r.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
