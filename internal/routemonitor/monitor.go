// Package routemonitor withdraws the routes of cluster nodes that have left.
//
// A deactivation event is turned into a durable work item under a cluster
// lock, so only one member schedules the cleanup. Work items are processed
// at least once; withdrawing an already withdrawn route is a no-op.
package routemonitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/internal/metrics"
	"github.com/rmacdonaldsmith/routemesh-go/internal/queue"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/cluster"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/coordination"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

var (
	// ErrNilDependency is returned when a required collaborator is missing
	ErrNilDependency = errors.New("route monitor dependency cannot be nil")
	// ErrShutdown is returned when starting a monitor that was shut down
	ErrShutdown = errors.New("route monitor is shut down")
)

// RouteAdmin is the part of the route service the reaper needs.
type RouteAdmin interface {
	RouteTables(ctx context.Context) ([]routing.TableID, error)
	Routes(ctx context.Context, table routing.TableID) ([]routing.RouteInfo, error)
	Withdraw(ctx context.Context, routes []routing.Route) error
}

// Monitor is the cluster-failure route reaper.
type Monitor struct {
	config  Config
	routes  RouteAdmin
	cluster cluster.Service
	lock    coordination.Lock
	queue   coordination.WorkQueue
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu            sync.Mutex
	started       bool
	shutdown      bool
	removeCluster func()
	removeStatus  func()
	clusterEvents *queue.FIFO[cluster.Event]
	eventsDone    chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates a Monitor. Call Start to begin reacting to membership events.
func New(config Config, routes RouteAdmin, clusterService cluster.Service, lock coordination.Lock,
	workQueue coordination.WorkQueue, logger *zap.Logger, m *metrics.Metrics) (*Monitor, error) {
	if routes == nil || clusterService == nil || lock == nil || workQueue == nil {
		return nil, ErrNilDependency
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid route monitor config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		config:        config,
		routes:        routes,
		cluster:       clusterService,
		lock:          lock,
		queue:         workQueue,
		logger:        logger.Named("route-monitor"),
		metrics:       m,
		clusterEvents: queue.New[cluster.Event](),
		eventsDone:    make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start registers the task processor and begins handling membership events. Idempotent.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return ErrShutdown
	}
	if m.started {
		return nil
	}

	if err := m.queue.RegisterTaskProcessor(m.processNode, m.config.Parallelism); err != nil {
		return fmt.Errorf("failed to register reaper task processor: %w", err)
	}
	m.removeStatus = m.queue.AddStatusListener(m.onQueueStatus)
	m.removeCluster = m.cluster.AddListener(func(ev cluster.Event) {
		m.clusterEvents.Push(ev)
	})
	go m.handleClusterEvents()

	m.started = true
	m.logger.Info("route monitor started",
		zap.String("local_node", string(m.cluster.LocalNode().ID)),
		zap.Int("parallelism", m.config.Parallelism))
	return nil
}

// Shutdown stops processing, unregisters listeners and releases the lock. Idempotent.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	var err error
	if started {
		m.removeCluster()
		m.removeStatus()
		err = multierr.Append(err, m.queue.StopProcessing())
	}
	m.cancel()
	m.clusterEvents.Close()
	if started {
		<-m.eventsDone
	}
	err = multierr.Append(err, m.lock.Unlock(ctx))
	return err
}

// onQueueStatus follows the work queue's quorum status.
func (m *Monitor) onQueueStatus(status coordination.QueueStatus) {
	m.logger.Info("reaper work queue status", zap.Stringer("status", status))
	switch status {
	case coordination.QueueSuspended:
		if err := m.queue.StopProcessing(); err != nil {
			m.logger.Warn("failed to stop reaper processing", zap.Error(err))
		}
	case coordination.QueueActive:
		err := m.queue.RegisterTaskProcessor(m.processNode, m.config.Parallelism)
		if err != nil {
			m.logger.Warn("failed to resume reaper processing", zap.Error(err))
		}
	}
}

// handleClusterEvents serializes reactions to membership events on one goroutine.
func (m *Monitor) handleClusterEvents() {
	defer close(m.eventsDone)
	for {
		ev, err := m.clusterEvents.Pop(m.ctx)
		if err != nil {
			return
		}
		if ev.InstanceType == cluster.Storage {
			continue
		}
		if ev.Type == cluster.InstanceDeactivated {
			m.scheduleCleanup(ev.Subject.ID)
		}
	}
}

func (m *Monitor) scheduleCleanup(node cluster.NodeID) {
	ok, err := m.lock.TryLock(m.ctx, m.config.LockTimeout)
	if err != nil {
		m.logger.Warn("failed to acquire reaper lock", zap.String("node", string(node)), zap.Error(err))
		return
	}
	if !ok {
		m.metrics.ReaperLockAttempt(metrics.ResultLost)
		m.logger.Info("lost the race to clean up node routes", zap.String("node", string(node)))
		return
	}
	m.metrics.ReaperLockAttempt(metrics.ResultAcquired)

	if err := m.queue.AddOne(m.ctx, string(node)); err != nil {
		m.logger.Warn("failed to queue node cleanup", zap.String("node", string(node)), zap.Error(err))
	} else {
		m.logger.Info("queued route cleanup for departed node", zap.String("node", string(node)))
	}
	if err := m.lock.Unlock(m.ctx); err != nil {
		m.logger.Warn("failed to release reaper lock", zap.Error(err))
	}
}

// processNode withdraws every route originated by the node named by item.
// Returning an error leaves the item queued for redelivery.
func (m *Monitor) processNode(ctx context.Context, item string) error {
	node := cluster.NodeID(item)

	if node == m.cluster.LocalNode().ID {
		m.metrics.ReaperTask(metrics.ResultSkipped)
		m.logger.Info("not removing routes of the local node", zap.String("node", item))
		return nil
	}
	if m.cluster.State(node).IsReady() {
		m.metrics.ReaperTask(metrics.ResultSkipped)
		m.logger.Info("node is ready again, not removing its routes", zap.String("node", item))
		return nil
	}

	routes, err := m.routesFrom(ctx, item)
	if err != nil {
		m.metrics.ReaperTask(metrics.ResultFailed)
		return err
	}
	if len(routes) > 0 {
		if err := m.routes.Withdraw(ctx, routes); err != nil {
			m.metrics.ReaperTask(metrics.ResultFailed)
			return fmt.Errorf("failed to withdraw routes of %s: %w", item, err)
		}
	}

	m.metrics.ReaperWithdrawn(len(routes))
	m.metrics.ReaperTask(metrics.ResultWithdrawn)
	m.logger.Info("withdrew routes of departed node",
		zap.String("node", item),
		zap.Int("routes", len(routes)))
	return nil
}

func (m *Monitor) routesFrom(ctx context.Context, node string) ([]routing.Route, error) {
	tables, err := m.routes.RouteTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list route tables: %w", err)
	}

	var routes []routing.Route
	for _, table := range tables {
		infos, err := m.routes.Routes(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to list routes of table %s: %w", table, err)
		}
		for _, info := range infos {
			for _, r := range info.AllRoutes {
				if r.SourceNode == node {
					routes = append(routes, r.Route)
				}
			}
		}
	}
	return routes, nil
}
