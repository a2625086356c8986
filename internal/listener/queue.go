// Package listener delivers route events to subscribers, one ordered queue per listener.
package listener

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/internal/metrics"
	"github.com/rmacdonaldsmith/routemesh-go/internal/queue"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// Queue owns one listener's unbounded FIFO and the goroutine draining it.
// Events are delivered one at a time in enqueue order. A panicking listener
// is logged and keeps receiving subsequent events.
type Queue struct {
	listener routing.RouteListener
	events   *queue.FIFO[routing.RouteEvent]
	logger   *zap.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	// stopped gates depth reports so none lands after the series is removed
	mu      sync.Mutex
	stopped bool
}

// NewQueue creates a queue for listener. The worker does not run until Start.
func NewQueue(listener routing.RouteListener, logger *zap.Logger, m *metrics.Metrics) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		listener: listener,
		events:   queue.New[routing.RouteEvent](),
		logger:   logger.With(zap.String("listener", listener.ID())),
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// ID returns the listener identity
func (q *Queue) ID() string { return q.listener.ID() }

// Post enqueues an event. Posting to a stopped queue drops the event.
func (q *Queue) Post(ev routing.RouteEvent) {
	if q.events.Push(ev) {
		q.reportDepth()
	}
}

func (q *Queue) reportDepth() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped {
		q.metrics.ListenerQueueDepth(q.ID(), q.events.Len())
	}
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	return q.events.Len()
}

func (q *Queue) reportFailure() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped {
		q.metrics.ListenerFailure(q.ID())
	}
}

// Start launches the delivery goroutine. Subsequent calls do nothing.
func (q *Queue) Start() {
	q.StartAfter(nil)
}

// StartAfter launches the delivery goroutine, which delivers nothing until
// prev is closed. A replacement queue uses it to wait for the worker it
// replaces, so one identity never sees two deliveries at once.
func (q *Queue) StartAfter(prev <-chan struct{}) {
	q.once.Do(func() {
		go q.run(prev)
	})
}

// Stop discards undelivered events and stops the worker after the event in
// flight, if any, returns. It does not wait; use Done for that. Idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.events.Close()
	q.once.Do(func() { close(q.done) })
}

// Done is closed once the worker has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run(prev <-chan struct{}) {
	defer close(q.done)
	if prev != nil {
		select {
		case <-prev:
		case <-q.ctx.Done():
			return
		}
	}
	for {
		ev, err := q.events.Pop(q.ctx)
		if err != nil {
			// closed or cancelled: deliberate shutdown
			return
		}
		q.reportDepth()
		q.deliver(ev)
	}
}

func (q *Queue) deliver(ev routing.RouteEvent) {
	defer func() {
		if r := recover(); r != nil {
			q.reportFailure()
			q.logger.Error("route listener failed",
				zap.String("event", string(routing.TypeOf(ev))),
				zap.Stringer("prefix", ev.Subject().Prefix),
				zap.Any("panic", r))
		}
	}()
	q.listener.Event(ev)
}
