package listener

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/internal/metrics"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// Registry maps listener identities to their queues.
// At most one live queue exists per identity.
type Registry struct {
	mu      sync.Mutex
	queues  map[string]*Queue
	closed  bool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		queues:  make(map[string]*Queue),
		logger:  logger.Named("listeners"),
		metrics: m,
	}
}

// Register creates a queue for listener, replacing any queue registered under
// the same identity. snapshot, when not nil, is called before the worker starts
// and its events are queued ahead of anything published afterwards. A
// replacement delivers nothing until the replaced worker's in-flight event returns.
func (r *Registry) Register(listener routing.RouteListener, snapshot func() []routing.RouteEvent) {
	q := NewQueue(listener, r.logger, r.metrics)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	prev := r.queues[listener.ID()]
	r.queues[listener.ID()] = q
	if snapshot != nil {
		for _, ev := range snapshot() {
			q.Post(ev)
		}
	}
	r.mu.Unlock()

	if prev == nil {
		q.Start()
		return
	}
	prev.Stop()
	q.StartAfter(prev.Done())
	r.logger.Info("replaced route listener", zap.String("listener", listener.ID()))
}

// Unregister stops and removes the queue registered for id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	q, ok := r.queues[id]
	delete(r.queues, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	q.Stop()
	r.metrics.ListenerRemoved(id)
}

// Publish offers ev to every registered queue.
func (r *Registry) Publish(ev routing.RouteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		q.Post(ev)
	}
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}

// Lookup returns the queue registered for id.
func (r *Registry) Lookup(id string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	return q, ok
}

// Close stops every queue. Registering after Close does nothing. Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string]*Queue)
	r.closed = true
	r.mu.Unlock()

	for id, q := range queues {
		q.Stop()
		r.metrics.ListenerRemoved(id)
	}
}
