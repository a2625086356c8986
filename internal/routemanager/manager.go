// Package routemanager wires route resolution together and exposes the
// public route service.
//
// Declared-route changes and host lifecycle changes both flow into the
// resolver; resolved outcomes are applied to the resolved route store and
// fanned out to per-listener queues.
package routemanager

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/internal/executor"
	"github.com/rmacdonaldsmith/routemesh-go/internal/listener"
	"github.com/rmacdonaldsmith/routemesh-go/internal/metrics"
	"github.com/rmacdonaldsmith/routemesh-go/internal/resolvedstore"
	"github.com/rmacdonaldsmith/routemesh-go/internal/resolver"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routestore"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

var (
	// ErrClosed is returned when using a closed manager
	ErrClosed = errors.New("route manager is closed")
	// ErrNilDependency is returned when a required collaborator is missing
	ErrNilDependency = errors.New("route manager dependency cannot be nil")
)

// Manager implements routing.RouteAdminService.
//
// Two gates keep ordering guarantees across components:
//   - startupMu is held exclusively while the startup pass submits every
//     declared route set; store and host callbacks hold it shared, so no live
//     event is submitted ahead of the pass.
//   - publishMu is held shared by every store mutation and its fan-out, and
//     exclusively while a new listener's snapshot is taken, so a listener sees
//     each change exactly once: either in its snapshot or as a live event.
type Manager struct {
	mu     sync.RWMutex
	config *Config

	// Core components
	routeStore   routestore.Store
	hosts        hostservice.Service
	store        *resolvedstore.Store
	resolver     *resolver.Resolver
	hostExecutor *executor.HashedExecutor
	listeners    *listener.Registry

	startupMu sync.RWMutex
	publishMu sync.RWMutex

	// State management
	started     bool
	closed      bool
	accepting   atomic.Bool
	removeHosts func()

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewManager creates a route manager over the given declared-route store and
// host discovery service. It builds the resolver, store and listener registry
// but does not subscribe to anything; call Start to begin operation.
func NewManager(config *Config, routeStore routestore.Store, hosts hostservice.Service,
	logger *zap.Logger, m *metrics.Metrics) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if routeStore == nil || hosts == nil {
		return nil, ErrNilDependency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("node", config.NodeID))

	mgr := &Manager{
		config:     config,
		routeStore: routeStore,
		hosts:      hosts,
		store:      resolvedstore.New(m),
		listeners:  listener.NewRegistry(logger, m),
		logger:     logger.Named("route-manager"),
		metrics:    m,
	}

	res, err := resolver.New(resolver.Config{
		Buckets:          config.ResolverBuckets,
		MonitoredIPCache: config.MonitoredIPCache,
	}, hosts, storeSink{mgr}, logger, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}
	mgr.resolver = res
	mgr.hostExecutor = executor.NewHashedExecutor("host-resolver", config.HostBuckets, logger)

	return mgr, nil
}

// Start subscribes to declared-route and host events and re-resolves every
// currently declared route before any of those events is processed.
func (mgr *Manager) Start(ctx context.Context) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.closed {
		return ErrClosed
	}
	if mgr.started {
		return nil // Already started, idempotent
	}

	mgr.startupMu.Lock()
	mgr.accepting.Store(true)
	mgr.routeStore.SetDelegate(mgr.onRouteStoreEvent)
	mgr.removeHosts = mgr.hosts.AddListener(mgr.onHostEvent)
	submitted, err := mgr.resolveAll(ctx)
	// callbacks parked on the gate may hold the store's dispatch lock,
	// so the gate is opened before unsubscribing
	mgr.startupMu.Unlock()

	if err != nil {
		mgr.unsubscribe()
		return fmt.Errorf("startup resolution failed: %w", err)
	}

	mgr.started = true
	mgr.logger.Info("route manager started", zap.Int("route_sets", submitted))
	return nil
}

// Stop unsubscribes from declared-route and host events. Resolved state and
// listeners are kept; a later Start re-resolves everything.
func (mgr *Manager) Stop(ctx context.Context) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if !mgr.started {
		return nil // Not started, idempotent
	}
	mgr.unsubscribe()
	mgr.started = false
	return nil
}

// Close stops the manager and releases all resources. Queued resolutions and
// undelivered listener events are discarded.
func (mgr *Manager) Close() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.closed {
		return nil // Already closed, idempotent
	}
	if mgr.started {
		mgr.unsubscribe()
	}

	mgr.hostExecutor.Shutdown()
	mgr.resolver.Close()
	mgr.listeners.Close()

	mgr.started = false
	mgr.closed = true
	mgr.logger.Info("route manager closed")
	return nil
}

func (mgr *Manager) unsubscribe() {
	mgr.accepting.Store(false)
	mgr.routeStore.UnsetDelegate()
	if mgr.removeHosts != nil {
		mgr.removeHosts()
		mgr.removeHosts = nil
	}
}

// resolveAll submits every declared route set to the resolver.
func (mgr *Manager) resolveAll(ctx context.Context) (int, error) {
	tables, err := mgr.routeStore.RouteTables(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list route tables: %w", err)
	}

	n := 0
	for _, table := range tables {
		sets, err := mgr.routeStore.Routes(ctx, table)
		if err != nil {
			return n, fmt.Errorf("failed to list routes of table %s: %w", table, err)
		}
		for _, set := range sets {
			if err := mgr.resolver.Resolve(set); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// onRouteStoreEvent is the declared-route store delegate.
func (mgr *Manager) onRouteStoreEvent(ev routestore.Event) {
	mgr.startupMu.RLock()
	defer mgr.startupMu.RUnlock()

	if !mgr.accepting.Load() {
		return
	}
	if err := mgr.resolver.Resolve(ev.Subject); err != nil {
		mgr.logger.Debug("dropped route set resolution",
			zap.Stringer("event", ev.Type),
			zap.Stringer("prefix", ev.Subject.Prefix),
			zap.Error(err))
	}
}

// onHostEvent hashes re-resolution by host identity so that every change
// caused by one host is applied in order.
func (mgr *Manager) onHostEvent(ev hostservice.Event) {
	mgr.startupMu.RLock()
	defer mgr.startupMu.RUnlock()

	if !mgr.accepting.Load() {
		return
	}
	err := mgr.hostExecutor.Execute(string(ev.Subject.ID), func() {
		mgr.reresolveHost(ev)
	})
	if err != nil {
		mgr.logger.Debug("dropped host event",
			zap.Stringer("event", ev.Type),
			zap.String("host", string(ev.Subject.ID)),
			zap.Error(err))
	}
}

func (mgr *Manager) reresolveHost(ev hostservice.Event) {
	ips := slices.Clone(ev.Subject.IPAddresses)
	switch ev.Type {
	case hostservice.HostUpdated, hostservice.HostMoved:
		// addresses the host dropped must un-resolve their routes
		if ev.PrevSubject != nil {
			ips = append(ips, ev.PrevSubject.IPAddresses...)
		}
	}
	slices.SortFunc(ips, netip.Addr.Compare)
	ips = slices.Compact(ips)
	if len(ips) == 0 {
		return
	}

	sets, err := mgr.routeStore.RoutesForNextHops(context.Background(), ips)
	if err != nil {
		mgr.logger.Warn("failed to look up routes for host",
			zap.String("host", string(ev.Subject.ID)),
			zap.Error(err))
		return
	}
	// only the prefixes are carried over; the set is re-read on the prefix bucket
	for _, set := range sets {
		if err := mgr.resolver.ResolvePrefix(set.Prefix, mgr.routeStore.RouteSet); err != nil {
			mgr.logger.Debug("dropped host-triggered resolution",
				zap.Stringer("prefix", set.Prefix),
				zap.Error(err))
		}
	}
}

// storeSink applies resolver outcomes to the resolved store and fans resulting
// events out to listeners.
type storeSink struct {
	mgr *Manager
}

func (s storeSink) UpdateRoute(best routing.ResolvedRoute, alternatives []routing.ResolvedRoute) {
	s.mgr.publishMu.RLock()
	defer s.mgr.publishMu.RUnlock()
	if ev, ok := s.mgr.store.UpdateRoute(best, alternatives); ok {
		s.mgr.listeners.Publish(ev)
	}
}

func (s storeSink) RemoveRoute(prefix netip.Prefix) {
	s.mgr.publishMu.RLock()
	defer s.mgr.publishMu.RUnlock()
	if ev, ok := s.mgr.store.RemoveRoute(prefix); ok {
		s.mgr.listeners.Publish(ev)
	}
}

// AddListener registers listener. It first receives one RouteAdded per stored
// best route, then every later event.
func (mgr *Manager) AddListener(l routing.RouteListener) {
	mgr.publishMu.Lock()
	defer mgr.publishMu.Unlock()

	mgr.listeners.Register(l, func() []routing.RouteEvent {
		best := mgr.store.AllRoutes()
		events := make([]routing.RouteEvent, 0, len(best))
		for _, r := range best {
			events = append(events, routing.RouteAdded{Best: r, Alts: mgr.store.Alternatives(r.Prefix)})
		}
		return events
	})
	mgr.logger.Debug("route listener added", zap.String("listener", l.ID()))
}

// RemoveListener unregisters listener and discards its undelivered events.
func (mgr *Manager) RemoveListener(l routing.RouteListener) {
	mgr.listeners.Unregister(l.ID())
}

// RouteTables returns every declared route table.
func (mgr *Manager) RouteTables(ctx context.Context) ([]routing.TableID, error) {
	return mgr.routeStore.RouteTables(ctx)
}

// Routes joins declared and resolved state for every prefix of table.
func (mgr *Manager) Routes(ctx context.Context, table routing.TableID) ([]routing.RouteInfo, error) {
	sets, err := mgr.routeStore.Routes(ctx, table)
	if err != nil {
		return nil, err
	}

	infos := make([]routing.RouteInfo, 0, len(sets))
	for _, set := range sets {
		info := routing.RouteInfo{
			Prefix:    set.Prefix,
			AllRoutes: mgr.resolver.ResolveRouteSet(set),
		}
		if best, ok := mgr.store.Get(set.Prefix); ok {
			info.Best = &best
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ResolvedRoutes returns the best route of every resolved prefix in table.
func (mgr *Manager) ResolvedRoutes(ctx context.Context, table routing.TableID) ([]routing.ResolvedRoute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return mgr.store.Routes(table), nil
}

// BestRoute returns the best route stored for an exact prefix.
func (mgr *Manager) BestRoute(ctx context.Context, prefix netip.Prefix) (routing.ResolvedRoute, bool) {
	return mgr.store.Get(prefix)
}

// AllResolvedRoutes returns every resolved candidate stored for an exact prefix.
func (mgr *Manager) AllResolvedRoutes(ctx context.Context, prefix netip.Prefix) ([]routing.ResolvedRoute, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return mgr.store.Alternatives(prefix), nil
}

// LongestPrefixLookup is an alias of LongestPrefixMatch.
//
// Deprecated: use LongestPrefixMatch.
func (mgr *Manager) LongestPrefixLookup(ctx context.Context, ip netip.Addr) (routing.ResolvedRoute, bool) {
	return mgr.LongestPrefixMatch(ctx, ip)
}

// LongestPrefixMatch returns the best route of the most specific resolved prefix covering ip.
func (mgr *Manager) LongestPrefixMatch(ctx context.Context, ip netip.Addr) (routing.ResolvedRoute, bool) {
	return mgr.store.LongestPrefixMatch(ip)
}

// Update declares routes. Resolution happens asynchronously; watch RouteEvents
// to observe the outcome. Routes without a source node are tagged with this node.
func (mgr *Manager) Update(ctx context.Context, routes []routing.Route) error {
	if mgr.isClosed() {
		return ErrClosed
	}
	if err := mgr.routeStore.UpdateRoutes(ctx, mgr.tag(routes)); err != nil {
		return fmt.Errorf("failed to declare routes: %w", err)
	}
	return nil
}

// Withdraw removes declared routes. Withdrawing an unknown route is a no-op.
// Routes without a source node are matched as declared by this node.
func (mgr *Manager) Withdraw(ctx context.Context, routes []routing.Route) error {
	if mgr.isClosed() {
		return ErrClosed
	}
	if err := mgr.routeStore.RemoveRoutes(ctx, mgr.tag(routes)); err != nil {
		return fmt.Errorf("failed to withdraw routes: %w", err)
	}
	return nil
}

// tag fills in this node as the source of routes that name none.
func (mgr *Manager) tag(routes []routing.Route) []routing.Route {
	tagged := make([]routing.Route, len(routes))
	for i, r := range routes {
		if r.SourceNode == "" {
			r.SourceNode = mgr.config.NodeID
		}
		tagged[i] = r
	}
	return tagged
}

func (mgr *Manager) isClosed() bool {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return mgr.closed
}

// NodeID returns this node's identifier.
func (mgr *Manager) NodeID() string {
	return mgr.config.NodeID
}

// Verify that Manager implements the RouteAdminService interface at compile time
var _ routing.RouteAdminService = (*Manager)(nil)
