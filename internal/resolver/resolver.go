// Package resolver turns declared route sets into resolved best routes.
//
// Resolution of one prefix is applied in submission order on a single
// hash-selected bucket; different prefixes resolve in parallel.
package resolver

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/internal/executor"
	"github.com/rmacdonaldsmith/routemesh-go/internal/metrics"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// ErrNilDependency is returned when a required collaborator is missing
var ErrNilDependency = errors.New("resolver dependency cannot be nil")

// Sink receives the outcome of every resolution.
// Calls for one prefix are never concurrent and arrive in submission order.
type Sink interface {
	UpdateRoute(best routing.ResolvedRoute, alternatives []routing.ResolvedRoute)
	RemoveRoute(prefix netip.Prefix)
}

// Config configures a Resolver
type Config struct {
	// Buckets is the number of resolution buckets; non-positive selects one per CPU.
	Buckets int

	// MonitoredIPCache bounds the set of next hops remembered as already monitored.
	MonitoredIPCache int
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Buckets <= 0 {
		c.Buckets = executor.DefaultBuckets()
	}
	if c.MonitoredIPCache <= 0 {
		c.MonitoredIPCache = 65536
	}
}

// Resolver resolves declared route sets against host discovery.
type Resolver struct {
	hosts     hostservice.Service
	sink      Sink
	executor  *executor.HashedExecutor
	monitored *lru.Cache[netip.Addr, struct{}]
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates a Resolver and starts its buckets.
func New(config Config, hosts hostservice.Service, sink Sink, logger *zap.Logger, m *metrics.Metrics) (*Resolver, error) {
	if hosts == nil || sink == nil {
		return nil, ErrNilDependency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.SetDefaults()

	monitored, err := lru.New[netip.Addr, struct{}](config.MonitoredIPCache)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitored ip cache: %w", err)
	}

	logger = logger.Named("resolver")
	return &Resolver{
		hosts:     hosts,
		sink:      sink,
		executor:  executor.NewHashedExecutor("route-resolver", config.Buckets, logger),
		monitored: monitored,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Resolve asynchronously resolves set and hands the outcome to the sink.
func (r *Resolver) Resolve(set routing.RouteSet) error {
	return r.executor.Execute(set.Prefix.String(), func() {
		r.apply(set)
	})
}

// LoadFunc reads the route set currently declared for a prefix.
type LoadFunc func(ctx context.Context, prefix netip.Prefix) (routing.RouteSet, error)

// ResolvePrefix asynchronously re-resolves prefix. The declared set is read
// through load when the task runs on the prefix bucket, so a change made
// between submission and execution is never overwritten by an older set.
func (r *Resolver) ResolvePrefix(prefix netip.Prefix, load LoadFunc) error {
	return r.executor.Execute(prefix.String(), func() {
		set, err := load(context.Background(), prefix)
		if err != nil {
			r.logger.Warn("failed to load route set",
				zap.Stringer("prefix", prefix),
				zap.Error(err))
			return
		}
		r.apply(set)
	})
}

// Pending returns the number of queued resolutions.
func (r *Resolver) Pending() int {
	return r.executor.Pending()
}

// Close stops the buckets; queued resolutions are discarded.
func (r *Resolver) Close() {
	r.executor.Shutdown()
}

func (r *Resolver) apply(set routing.RouteSet) {
	if set.Deleted() {
		// removed from the declared store before we got to it
		r.metrics.Resolution(metrics.OutcomeDeleted)
		return
	}

	candidates := make([]routing.ResolvedRoute, 0, len(set.Routes))
	for _, route := range set.Routes {
		if resolved, ok := r.ResolveRoute(route); ok {
			candidates = append(candidates, resolved)
		}
	}

	if len(candidates) == 0 {
		r.sink.RemoveRoute(set.Prefix)
		r.metrics.Resolution(metrics.OutcomeRemoved)
		return
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		best = Decide(best, c)
	}
	r.sink.UpdateRoute(best, candidates)
	r.metrics.Resolution(metrics.OutcomeResolved)
}

// ResolveRouteSet resolves every candidate of set for display.
// Unresolved candidates are kept with an empty MAC.
func (r *Resolver) ResolveRouteSet(set routing.RouteSet) []routing.ResolvedRoute {
	out := make([]routing.ResolvedRoute, 0, len(set.Routes))
	for _, route := range set.Routes {
		resolved, ok := r.ResolveRoute(route)
		if !ok {
			resolved = routing.Unresolved(route)
		}
		out = append(out, resolved)
	}
	return out
}

// ResolveRoute binds route to the host currently known at its next hop.
// It also registers interest in the next hop so that discovery of a host
// there triggers re-resolution later.
func (r *Resolver) ResolveRoute(route routing.Route) (routing.ResolvedRoute, bool) {
	if ok, _ := r.monitored.ContainsOrAdd(route.NextHop, struct{}{}); !ok {
		r.hosts.StartMonitoringIP(route.NextHop)
	}

	hosts := r.hosts.HostsByIP(route.NextHop)
	if len(hosts) == 0 {
		r.logger.Debug("next hop unresolved",
			zap.Stringer("prefix", route.Prefix),
			zap.Stringer("next_hop", route.NextHop))
		return routing.ResolvedRoute{}, false
	}

	// several hosts claiming one IP is tolerated; pick the lowest id
	host := slices.MinFunc(hosts, func(a, b hostservice.Host) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return routing.ResolvedRoute{
		Route:       route,
		NextHopMAC:  slices.Clone(host.MAC),
		NextHopVLAN: host.VLAN,
	}, true
}

// Decide returns the preferred of two resolved candidates for one prefix.
// The lower next-hop address wins. Decide is commutative.
func Decide(a, b routing.ResolvedRoute) routing.ResolvedRoute {
	if Compare(a, b) <= 0 {
		return a
	}
	return b
}

// Compare orders candidates by preference: next hop first, then the remaining
// fields so that distinct candidates never compare equal.
func Compare(a, b routing.ResolvedRoute) int {
	if c := a.NextHop.Compare(b.NextHop); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SourceNode, b.SourceNode); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	if c := bytes.Compare(a.NextHopMAC, b.NextHopMAC); c != 0 {
		return c
	}
	return cmp.Compare(a.NextHopVLAN, b.NextHopVLAN)
}
