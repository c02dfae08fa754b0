package queue

import (
	"sync"

	"github.com/cuemby/hutch/pkg/types"
)

// Queue is a handle to a named work channel
type Queue struct {
	Name           string
	DefaultOptions types.JobOptions
}

// Registry owns the mapping from queue name to queue handle. Queues are
// created lazily on first reference and reused; there is no hidden global
// state, the registry is passed to every component that needs it.
type Registry struct {
	mu       sync.Mutex
	queues   map[string]*Queue
	defaults types.JobOptions
}

// NewRegistry creates a registry with the given per-queue default options
func NewRegistry(defaults types.JobOptions) *Registry {
	return &Registry{
		queues:   make(map[string]*Queue),
		defaults: defaults,
	}
}

// Get returns the queue handle, creating it on first reference
func (r *Registry) Get(name string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q
	}
	q := &Queue{Name: name, DefaultOptions: r.defaults}
	r.queues[name] = q
	return q
}

// Names returns all queues referenced so far
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}
