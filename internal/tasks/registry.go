package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

var ErrUnknownTask = errors.New("unknown task name")

// Handler executes a single task. The payload is the raw JSON document the
// caller dispatched; the returned string is stored as the task result.
type Handler func(ctx context.Context, payload string) (string, error)

// Registry maps task names to handlers. Registration happens during
// startup, before the worker pool runs; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return handler, nil
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := maps.Keys(r.handlers)
	sort.Strings(names)
	return names
}
