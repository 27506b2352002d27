package lookup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/tagpin/pkg/config"
	"github.com/cuemby/tagpin/pkg/events"
	"github.com/cuemby/tagpin/pkg/resolver"
	"github.com/cuemby/tagpin/pkg/store"
)

// Registry owns one coordinator per workflow. Coordinators are created on
// first use; whether a new coordinator starts in the cache-loading state is
// decided by whether the store already holds pins for the workflow.
type Registry struct {
	res     resolver.Resolver
	st      store.Store
	timeout time.Duration
	backoff config.Backoff
	broker  *events.Broker

	mu     sync.Mutex
	coords map[string]*Coordinator
	closed bool
}

// NewRegistry creates a registry producing coordinators with the given
// collaborators and settings.
func NewRegistry(res resolver.Resolver, st store.Store, timeout time.Duration, bo config.Backoff, broker *events.Broker) *Registry {
	return &Registry{
		res:     res,
		st:      st,
		timeout: timeout,
		backoff: bo,
		broker:  broker,
		coords:  make(map[string]*Coordinator),
	}
}

// Coordinator returns the workflow's coordinator, creating it on first
// use. A workflow with persisted pins restarts in the cache-loading state.
func (r *Registry) Coordinator(ctx context.Context, workflowID string) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("registry closed")
	}
	if c, ok := r.coords[workflowID]; ok {
		return c, nil
	}

	restart, err := r.st.HasWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to probe workflow %s: %w", workflowID, err)
	}

	c := New(Options{
		WorkflowID:      workflowID,
		Restart:         restart,
		Resolver:        r.res,
		Store:           r.st,
		ResolverTimeout: r.timeout,
		Backoff:         r.backoff,
		Events:          r.broker,
	})
	r.coords[workflowID] = c
	return c, nil
}

// Remove closes the workflow's coordinator and deletes its persisted pins.
func (r *Registry) Remove(ctx context.Context, workflowID string) error {
	r.mu.Lock()
	c, ok := r.coords[workflowID]
	delete(r.coords, workflowID)
	r.mu.Unlock()

	if ok {
		c.Close()
	}
	return r.st.DeleteWorkflow(ctx, workflowID)
}

// Close stops every coordinator.
func (r *Registry) Close() {
	r.mu.Lock()
	coords := r.coords
	r.coords = make(map[string]*Coordinator)
	r.closed = true
	r.mu.Unlock()

	for _, c := range coords {
		c.Close()
	}
}
