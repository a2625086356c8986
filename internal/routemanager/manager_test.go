package routemanager

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/internal/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/internal/routemonitor"
	"github.com/rmacdonaldsmith/routemesh-go/internal/routestore"
	hostapi "github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

var _ routemonitor.RouteAdmin = (*Manager)(nil)

type recorder struct {
	id     string
	mu     sync.Mutex
	events []routing.RouteEvent
}

func newRecorder(id string) *recorder {
	return &recorder{id: id}
}

func (r *recorder) ID() string { return r.id }

func (r *recorder) Event(ev routing.RouteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) received() []routing.RouteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]routing.RouteEvent(nil), r.events...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	mgr    *Manager
	routes *routestore.InMemoryStore
	hosts  *hostservice.InMemoryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		routes: routestore.NewInMemoryStore(),
		hosts:  hostservice.NewInMemoryService(),
	}
	mgr, err := NewManager(NewConfig("node-1").WithResolverBuckets(4).WithHostBuckets(2),
		f.routes, f.hosts, zap.NewNop(), nil)
	require.NoError(t, err)
	f.mgr = mgr
	t.Cleanup(func() {
		_ = mgr.Close()
		_ = f.routes.Close()
	})
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.mgr.Start(context.Background()))
}

func route(prefix, nextHop string) routing.Route {
	return routing.Route{
		Source:     routing.SourceStatic,
		Prefix:     netip.MustParsePrefix(prefix),
		NextHop:    netip.MustParseAddr(nextHop),
		SourceNode: "node-1",
	}
}

func host(mac string, vlan routing.VlanID, ips ...string) hostapi.Host {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		panic(err)
	}
	h := hostapi.Host{
		ID:   hostapi.HostID(fmt.Sprintf("%s/%s", hw, vlan)),
		MAC:  hw,
		VLAN: vlan,
	}
	for _, ip := range ips {
		h.IPAddresses = append(h.IPAddresses, netip.MustParseAddr(ip))
	}
	return h
}

func (f *fixture) bestNextHop(prefix string) (netip.Addr, bool) {
	best, ok := f.mgr.BestRoute(context.Background(), netip.MustParsePrefix(prefix))
	if !ok {
		return netip.Addr{}, false
	}
	return best.NextHop, true
}

// TestNewManager tests constructor validation
func TestNewManager(t *testing.T) {
	store := routestore.NewInMemoryStore()
	hosts := hostservice.NewInMemoryService()

	_, err := NewManager(nil, store, hosts, nil, nil)
	assert.Error(t, err)

	_, err = NewManager(NewConfig(""), store, hosts, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyNodeID)

	_, err = NewManager(NewConfig("node-1"), nil, hosts, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewManager(NewConfig("node-1"), store, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	mgr, err := NewManager(NewConfig("node-1"), store, hosts, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "node-1", mgr.NodeID())
	require.NoError(t, mgr.Close())
}

// TestManager_Lifecycle tests idempotent Start, Stop and Close
func TestManager_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.mgr.Health().Healthy())
	require.NoError(t, f.mgr.Start(ctx))
	require.NoError(t, f.mgr.Start(ctx))
	assert.True(t, f.mgr.Health().Healthy())

	require.NoError(t, f.mgr.Stop(ctx))
	require.NoError(t, f.mgr.Stop(ctx))
	assert.False(t, f.mgr.Health().Started)

	require.NoError(t, f.mgr.Start(ctx))
	require.NoError(t, f.mgr.Close())
	require.NoError(t, f.mgr.Close())

	h := f.mgr.Health()
	assert.True(t, h.Closed)
	assert.False(t, h.Healthy())

	assert.ErrorIs(t, f.mgr.Start(ctx), ErrClosed)
	assert.ErrorIs(t, f.mgr.Update(ctx, []routing.Route{route("10.0.0.0/24", "192.168.1.1")}), ErrClosed)
	assert.ErrorIs(t, f.mgr.Withdraw(ctx, []routing.Route{route("10.0.0.0/24", "192.168.1.1")}), ErrClosed)
}

// TestManager_UnresolvedRouteResolvesWhenHostAppears tests that a route waits
// for its next hop and is published once a host shows up there
func TestManager_UnresolvedRouteResolvesWhenHostAppears(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	rec := newRecorder("fib")
	f.mgr.AddListener(rec)

	require.NoError(t, f.mgr.Update(ctx, []routing.Route{route("10.0.0.0/24", "192.168.1.1")}))

	// resolution registered interest in the next hop
	require.Eventually(t, func() bool {
		return f.hosts.IsMonitored(netip.MustParseAddr("192.168.1.1"))
	}, waitFor, tick)
	require.Eventually(t, func() bool { return f.mgr.Health().PendingResolutions == 0 }, waitFor, tick)

	resolved, err := f.mgr.ResolvedRoutes(ctx, routing.IPv4Table)
	require.NoError(t, err)
	assert.Empty(t, resolved)
	_, found := f.mgr.BestRoute(ctx, netip.MustParsePrefix("10.0.0.0/24"))
	assert.False(t, found)
	assert.Zero(t, rec.count())

	require.NoError(t, f.hosts.AddHost(host("AA:BB:CC:DD:EE:FF", routing.VlanNone, "192.168.1.1")))

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
	best, found := f.mgr.BestRoute(ctx, netip.MustParsePrefix("10.0.0.0/24"))
	require.True(t, found)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", best.NextHopMAC.String())

	ev := rec.received()[0]
	added, ok := ev.(routing.RouteAdded)
	require.True(t, ok, "expected RouteAdded, got %T", ev)
	assert.True(t, added.Best.Equal(best))
}

// TestManager_WithdrawPromotesAlternative tests that removing the best of two
// resolved candidates promotes the other with a single RouteAdded
func TestManager_WithdrawPromotesAlternative(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hosts.AddHost(host("00:00:00:00:00:05", routing.VlanNone, "10.0.0.5")))
	require.NoError(t, f.hosts.AddHost(host("00:00:00:00:00:09", routing.VlanNone, "10.0.0.9")))
	f.start(t)
	ctx := context.Background()
	rec := newRecorder("fib")
	f.mgr.AddListener(rec)

	require.NoError(t, f.mgr.Update(ctx, []routing.Route{
		route("172.16.0.0/16", "10.0.0.9"),
		route("172.16.0.0/16", "10.0.0.5"),
	}))
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
	nh, ok := f.bestNextHop("172.16.0.0/16")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", nh.String())

	alts, err := f.mgr.AllResolvedRoutes(ctx, netip.MustParsePrefix("172.16.0.0/16"))
	require.NoError(t, err)
	assert.Len(t, alts, 2)

	require.NoError(t, f.mgr.Withdraw(ctx, []routing.Route{route("172.16.0.0/16", "10.0.0.5")}))
	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
	nh, ok = f.bestNextHop("172.16.0.0/16")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9", nh.String())

	for _, ev := range rec.received() {
		assert.Equal(t, routing.EventRouteAdded, routing.TypeOf(ev))
	}
	promoted := rec.received()[1].(routing.RouteAdded)
	assert.Equal(t, "10.0.0.9", promoted.Best.NextHop.String())
	assert.Len(t, promoted.Alts, 1)

	// withdrawing the last candidate removes the prefix
	require.NoError(t, f.mgr.Withdraw(ctx, []routing.Route{route("172.16.0.0/16", "10.0.0.9")}))
	require.Eventually(t, func() bool { return rec.count() == 3 }, waitFor, tick)
	removed, isRemoved := rec.received()[2].(routing.RouteRemoved)
	require.True(t, isRemoved)
	assert.Equal(t, "10.0.0.9", removed.Last.NextHop.String())
	_, ok = f.bestNextHop("172.16.0.0/16")
	assert.False(t, ok)
}

// TestManager_ListenerSnapshot tests that a new listener first receives the
// stored best routes, then live events
func TestManager_ListenerSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hosts.AddHost(host("00:00:00:00:00:01", routing.VlanNone, "192.168.1.1")))
	f.start(t)
	ctx := context.Background()

	want := make(map[netip.Prefix]bool)
	for i := range 5 {
		r := route(fmt.Sprintf("10.%d.0.0/16", i), "192.168.1.1")
		want[r.Prefix] = true
		require.NoError(t, f.mgr.Update(ctx, []routing.Route{r}))
	}
	require.Eventually(t, func() bool {
		return f.mgr.Health().Prefixes[routing.IPv4Table] == 5
	}, waitFor, tick)

	rec := newRecorder("late")
	f.mgr.AddListener(rec)
	require.Eventually(t, func() bool { return rec.count() == 5 }, waitFor, tick)

	require.NoError(t, f.mgr.Update(ctx, []routing.Route{route("10.99.0.0/16", "192.168.1.1")}))
	require.Eventually(t, func() bool { return rec.count() == 6 }, waitFor, tick)

	events := rec.received()
	seen := make(map[netip.Prefix]bool)
	for _, ev := range events[:5] {
		added, ok := ev.(routing.RouteAdded)
		require.True(t, ok)
		seen[added.Best.Prefix] = true
		assert.NotEmpty(t, added.Alts)
	}
	assert.Equal(t, want, seen)
	assert.Equal(t, netip.MustParsePrefix("10.99.0.0/16"), events[5].Subject().Prefix)
}

// TestManager_SnapshotIsolation tests that a listener added during churn sees
// every change exactly once: per prefix, events strictly alternate between
// added and removed, and replaying them reproduces the store
func TestManager_SnapshotIsolation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hosts.AddHost(host("00:00:00:00:00:01", routing.VlanNone, "192.168.1.1")))
	f.start(t)
	ctx := context.Background()

	const prefixes = 8
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 400 {
			r := route(fmt.Sprintf("10.1.%d.0/24", i%prefixes), "192.168.1.1")
			if (i/prefixes)%2 == 0 {
				assert.NoError(t, f.mgr.Update(ctx, []routing.Route{r}))
			} else {
				assert.NoError(t, f.mgr.Withdraw(ctx, []routing.Route{r}))
			}
		}
		// leave half the prefixes declared
		for i := range prefixes / 2 {
			assert.NoError(t, f.mgr.Update(ctx, []routing.Route{route(fmt.Sprintf("10.1.%d.0/24", i), "192.168.1.1")}))
		}
	}()

	var recs []*recorder
	for i := range 4 {
		time.Sleep(time.Millisecond)
		rec := newRecorder(fmt.Sprintf("listener-%d", i))
		f.mgr.AddListener(rec)
		recs = append(recs, rec)
	}
	wg.Wait()

	stored := make(map[netip.Prefix]routing.ResolvedRoute)
	require.Eventually(t, func() bool {
		resolved, err := f.mgr.ResolvedRoutes(ctx, routing.IPv4Table)
		if err != nil || len(resolved) != prefixes/2 {
			return false
		}
		clear(stored)
		for _, r := range resolved {
			if r.Prefix.Addr().As4()[2] >= prefixes/2 {
				return false
			}
			stored[r.Prefix] = r
		}
		return true
	}, waitFor, tick)

	for _, rec := range recs {
		require.Eventually(t, func() bool {
			return sameView(replay(rec.received()), stored)
		}, waitFor, tick, rec.id)

		perPrefix := make(map[netip.Prefix][]routing.EventType)
		for _, ev := range rec.received() {
			p := ev.Subject().Prefix
			perPrefix[p] = append(perPrefix[p], routing.TypeOf(ev))
		}
		for p, types := range perPrefix {
			for i, typ := range types {
				want := routing.EventRouteAdded
				if i%2 == 1 {
					want = routing.EventRouteRemoved
				}
				require.Equal(t, want, typ, "%s: event %d of %s", rec.id, i, p)
			}
		}
	}
}

func sameView(a, b map[netip.Prefix]routing.ResolvedRoute) bool {
	if len(a) != len(b) {
		return false
	}
	for p, r := range a {
		other, ok := b[p]
		if !ok || !other.Equal(r) {
			return false
		}
	}
	return true
}

func replay(events []routing.RouteEvent) map[netip.Prefix]routing.ResolvedRoute {
	view := make(map[netip.Prefix]routing.ResolvedRoute)
	for _, ev := range events {
		switch e := ev.(type) {
		case routing.RouteAdded:
			view[e.Best.Prefix] = e.Best
		case routing.RouteRemoved:
			delete(view, e.Last.Prefix)
		}
	}
	return view
}

// TestManager_ListenerIsolation tests that a blocked or panicking listener
// does not delay or break delivery to others
func TestManager_ListenerIsolation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hosts.AddHost(host("00:00:00:00:00:01", routing.VlanNone, "192.168.1.1")))
	f.start(t)
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	f.mgr.AddListener(routing.NewListenerFunc("stuck", func(routing.RouteEvent) { <-release }))
	f.mgr.AddListener(routing.NewListenerFunc("broken", func(routing.RouteEvent) { panic("boom") }))
	rec := newRecorder("healthy")
	f.mgr.AddListener(rec)

	for i := range 10 {
		require.NoError(t, f.mgr.Update(ctx, []routing.Route{route(fmt.Sprintf("10.2.%d.0/24", i), "192.168.1.1")}))
	}
	require.Eventually(t, func() bool { return rec.count() == 10 }, waitFor, tick)
	assert.Equal(t, 3, f.mgr.Health().Listeners)

	// replacing by identity keeps a single registration
	f.mgr.AddListener(newRecorder("healthy"))
	assert.Equal(t, 3, f.mgr.Health().Listeners)

	f.mgr.RemoveListener(rec)
	f.mgr.RemoveListener(newRecorder("unknown"))
	assert.Equal(t, 2, f.mgr.Health().Listeners)
}

// TestManager_StartupResolvesDeclaredRoutes tests that routes declared before
// Start are resolved by the startup pass
func TestManager_StartupResolvesDeclaredRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.hosts.AddHost(host("00:00:00:00:00:01", routing.VlanNone, "192.168.1.1")))
	require.NoError(t, f.routes.UpdateRoutes(ctx, []routing.Route{
		route("10.0.0.0/8", "192.168.1.1"),
		route("2001:db8::/32", "fe80::1"),
	}))

	// nothing is resolved until the manager starts
	time.Sleep(20 * time.Millisecond)
	_, ok := f.bestNextHop("10.0.0.0/8")
	require.False(t, ok)

	f.start(t)
	require.Eventually(t, func() bool {
		_, ok := f.bestNextHop("10.0.0.0/8")
		return ok
	}, waitFor, tick)

	tables, err := f.mgr.RouteTables(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []routing.TableID{routing.IPv4Table, routing.IPv6Table}, tables)

	infos, err := f.mgr.Routes(ctx, routing.IPv6Table)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Nil(t, infos[0].Best, "no host at fe80::1")
	require.Len(t, infos[0].AllRoutes, 1)
	assert.False(t, infos[0].AllRoutes[0].Resolved())
}

// TestManager_HostChangesReresolve tests host move, address change and removal
func TestManager_HostChangesReresolve(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	rec := newRecorder("fib")
	f.mgr.AddListener(rec)

	h := host("00:00:00:00:00:01", 10, "192.168.1.1")
	require.NoError(t, f.hosts.AddHost(h))
	require.NoError(t, f.mgr.Update(ctx, []routing.Route{route("10.0.0.0/24", "192.168.1.1")}))
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)

	// same host seen on another VLAN
	moved := h
	moved.VLAN = 20
	require.NoError(t, f.hosts.UpdateHost(moved))
	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
	best, ok := f.mgr.BestRoute(ctx, netip.MustParsePrefix("10.0.0.0/24"))
	require.True(t, ok)
	assert.Equal(t, routing.VlanID(20), best.NextHopVLAN)

	// the host gives up the next-hop address
	renumbered := moved
	renumbered.IPAddresses = []netip.Addr{netip.MustParseAddr("192.168.1.2")}
	require.NoError(t, f.hosts.UpdateHost(renumbered))
	require.Eventually(t, func() bool { return rec.count() == 3 }, waitFor, tick)
	assert.IsType(t, routing.RouteRemoved{}, rec.received()[2])

	// and takes it back
	require.NoError(t, f.hosts.UpdateHost(moved))
	require.Eventually(t, func() bool { return rec.count() == 4 }, waitFor, tick)

	require.NoError(t, f.hosts.RemoveHost(moved.ID))
	require.Eventually(t, func() bool { return rec.count() == 5 }, waitFor, tick)
	assert.IsType(t, routing.RouteRemoved{}, rec.received()[4])
}

// TestManager_LongestPrefixMatch tests lookups through the public surface
func TestManager_LongestPrefixMatch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hosts.AddHost(host("00:00:00:00:00:01", routing.VlanNone, "192.168.1.1", "192.168.1.2", "192.168.1.3")))
	f.start(t)
	ctx := context.Background()

	require.NoError(t, f.mgr.Update(ctx, []routing.Route{
		route("0.0.0.0/0", "192.168.1.1"),
		route("10.0.0.0/24", "192.168.1.2"),
		route("10.0.0.0/28", "192.168.1.3"),
	}))
	require.Eventually(t, func() bool {
		return f.mgr.Health().Prefixes[routing.IPv4Table] == 3
	}, waitFor, tick)

	cases := map[string]string{
		"10.0.0.7":  "10.0.0.0/28",
		"10.0.0.42": "10.0.0.0/24",
		"8.8.8.8":   "0.0.0.0/0",
	}
	for ip, want := range cases {
		got, ok := f.mgr.LongestPrefixMatch(ctx, netip.MustParseAddr(ip))
		require.True(t, ok, ip)
		assert.Equal(t, want, got.Prefix.String(), ip)

		alias, ok := f.mgr.LongestPrefixLookup(ctx, netip.MustParseAddr(ip))
		require.True(t, ok)
		assert.True(t, alias.Equal(got))
	}

	_, ok := f.mgr.LongestPrefixMatch(ctx, netip.MustParseAddr("2001:db8::1"))
	assert.False(t, ok)
}

// TestManager_UpdateTagsSourceNode tests that routes without a source node
// are declared and withdrawn as this node's routes
func TestManager_UpdateTagsSourceNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := route("10.0.0.0/24", "192.168.1.1")
	r.SourceNode = ""
	require.NoError(t, f.mgr.Update(ctx, []routing.Route{r}))

	sets, err := f.routes.Routes(ctx, routing.IPv4Table)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.Len(t, sets[0].Routes, 1)
	assert.Equal(t, "node-1", sets[0].Routes[0].SourceNode)

	require.NoError(t, f.mgr.Withdraw(ctx, []routing.Route{r}))
	sets, err = f.routes.Routes(ctx, routing.IPv4Table)
	require.NoError(t, err)
	assert.Empty(t, sets)

	bad := route("10.0.0.0/24", "2001:db8::1")
	assert.Error(t, f.mgr.Update(ctx, []routing.Route{bad}))
}

// gatedStore parks host-triggered next-hop lookups after they have read the store
type gatedStore struct {
	*routestore.InMemoryStore
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (s *gatedStore) RoutesForNextHops(ctx context.Context, nextHops []netip.Addr) ([]routing.RouteSet, error) {
	sets, err := s.InMemoryStore.RoutesForNextHops(ctx, nextHops)
	if s.armed.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return sets, err
}

// TestManager_HostReresolutionDoesNotRestoreWithdrawnRoute tests that a route
// withdrawn while a host change is being processed stays withdrawn
func TestManager_HostReresolutionDoesNotRestoreWithdrawnRoute(t *testing.T) {
	ctx := context.Background()
	routes := &gatedStore{
		InMemoryStore: routestore.NewInMemoryStore(),
		read:          make(chan struct{}),
		release:       make(chan struct{}),
	}
	hosts := hostservice.NewInMemoryService()
	mgr, err := NewManager(NewConfig("node-1").WithResolverBuckets(4).WithHostBuckets(2),
		routes, hosts, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mgr.Close()
		_ = routes.Close()
	})
	require.NoError(t, mgr.Start(ctx))

	prefix := netip.MustParsePrefix("10.0.0.0/24")
	r := route("10.0.0.0/24", "192.168.1.1")
	h := host("aa:bb:cc:dd:ee:ff", 10, "192.168.1.1")
	require.NoError(t, hosts.AddHost(h))
	require.NoError(t, mgr.Update(ctx, []routing.Route{r}))
	require.Eventually(t, func() bool {
		_, ok := mgr.BestRoute(ctx, prefix)
		return ok
	}, waitFor, tick)

	routes.armed.Store(true)
	moved := h
	moved.VLAN = 20
	require.NoError(t, hosts.UpdateHost(moved))
	select {
	case <-routes.read:
	case <-time.After(waitFor):
		t.Fatal("host change never looked up its routes")
	}

	require.NoError(t, mgr.Withdraw(ctx, []routing.Route{r}))
	require.Eventually(t, func() bool {
		_, ok := mgr.BestRoute(ctx, prefix)
		return !ok
	}, waitFor, tick)
	close(routes.release)

	// drain the host bucket, then the prefix bucket behind it
	hostDone := make(chan struct{})
	require.NoError(t, mgr.hostExecutor.Execute(string(moved.ID), func() { close(hostDone) }))
	<-hostDone
	prefixDone := make(chan struct{})
	require.NoError(t, mgr.resolver.ResolvePrefix(prefix,
		func(ctx context.Context, p netip.Prefix) (routing.RouteSet, error) {
			defer close(prefixDone)
			return routes.RouteSet(ctx, p)
		}))
	<-prefixDone

	sets, err := routes.Routes(ctx, routing.IPv4Table)
	require.NoError(t, err)
	assert.Empty(t, sets)
	_, ok := mgr.BestRoute(ctx, prefix)
	assert.False(t, ok, "withdrawn route must not be restored")
}
