package resolver

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	hostsvc "github.com/rmacdonaldsmith/routemesh-go/internal/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

type sinkCall struct {
	remove bool
	prefix netip.Prefix
	best   routing.ResolvedRoute
	alts   []routing.ResolvedRoute
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *recordingSink) UpdateRoute(best routing.ResolvedRoute, alts []routing.ResolvedRoute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{prefix: best.Prefix, best: best, alts: alts})
}

func (s *recordingSink) RemoveRoute(prefix netip.Prefix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{remove: true, prefix: prefix})
}

func (s *recordingSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

var (
	macA = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	macB = net.HardwareAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
)

func route(prefix, nextHop string) routing.Route {
	return routing.Route{
		Source:     routing.SourceStatic,
		Prefix:     netip.MustParsePrefix(prefix),
		NextHop:    netip.MustParseAddr(nextHop),
		SourceNode: "node-1",
	}
}

func addHost(t *testing.T, hosts *hostsvc.InMemoryService, id string, mac net.HardwareAddr, ips ...string) {
	t.Helper()
	h := hostservice.Host{ID: hostservice.HostID(id), MAC: mac, VLAN: 100}
	for _, ip := range ips {
		h.IPAddresses = append(h.IPAddresses, netip.MustParseAddr(ip))
	}
	require.NoError(t, hosts.AddHost(h))
}

func newResolver(t *testing.T, buckets int) (*Resolver, *hostsvc.InMemoryService, *recordingSink) {
	t.Helper()
	hosts := hostsvc.NewInMemoryService()
	sink := &recordingSink{}
	r, err := New(Config{Buckets: buckets}, hosts, sink, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, hosts, sink
}

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(Config{}, nil, &recordingSink{}, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = New(Config{}, hostsvc.NewInMemoryService(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestResolveRoute_UnknownNextHop(t *testing.T) {
	r, hosts, _ := newResolver(t, 1)
	rt := route("10.0.0.0/24", "192.168.1.1")

	_, ok := r.ResolveRoute(rt)
	assert.False(t, ok)
	assert.True(t, hosts.IsMonitored(rt.NextHop), "next hop should be monitored")
}

func TestResolveRoute_KnownHost(t *testing.T) {
	r, hosts, _ := newResolver(t, 1)
	addHost(t, hosts, "h1", macA, "192.168.1.1")

	got, ok := r.ResolveRoute(route("10.0.0.0/24", "192.168.1.1"))
	require.True(t, ok)
	assert.Equal(t, macA, got.NextHopMAC)
	assert.Equal(t, routing.VlanID(100), got.NextHopVLAN)
}

func TestResolveRoute_MultipleHostsPicksLowestID(t *testing.T) {
	r, hosts, _ := newResolver(t, 1)
	addHost(t, hosts, "h2", macB, "192.168.1.1")
	addHost(t, hosts, "h1", macA, "192.168.1.1")

	got, ok := r.ResolveRoute(route("10.0.0.0/24", "192.168.1.1"))
	require.True(t, ok)
	assert.Equal(t, macA, got.NextHopMAC)
}

func TestResolveRouteSet_KeepsUnresolved(t *testing.T) {
	r, hosts, _ := newResolver(t, 1)
	addHost(t, hosts, "h1", macA, "10.0.0.5")

	set := routing.RouteSet{
		Table:  routing.IPv4Table,
		Prefix: netip.MustParsePrefix("10.1.0.0/16"),
		Routes: []routing.Route{route("10.1.0.0/16", "10.0.0.5"), route("10.1.0.0/16", "10.0.0.9")},
	}
	got := r.ResolveRouteSet(set)
	require.Len(t, got, 2)
	assert.True(t, got[0].Resolved())
	assert.False(t, got[1].Resolved())
	assert.Equal(t, routing.VlanNone, got[1].NextHopVLAN)
}

func TestResolve_BestAndAlternatives(t *testing.T) {
	r, hosts, sink := newResolver(t, 2)
	addHost(t, hosts, "h5", macA, "10.0.0.5")
	addHost(t, hosts, "h9", macB, "10.0.0.9")

	prefix := netip.MustParsePrefix("10.1.0.0/16")
	require.NoError(t, r.Resolve(routing.RouteSet{
		Table:  routing.IPv4Table,
		Prefix: prefix,
		Routes: []routing.Route{route("10.1.0.0/16", "10.0.0.9"), route("10.1.0.0/16", "10.0.0.5"), route("10.1.0.0/16", "10.0.0.7")},
	}))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, time.Millisecond)
	call := sink.snapshot()[0]
	assert.False(t, call.remove)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), call.best.NextHop)
	assert.Len(t, call.alts, 2, "unresolved candidate must be dropped")
}

func TestResolve_NoResolvableCandidateRemoves(t *testing.T) {
	r, _, sink := newResolver(t, 2)
	prefix := netip.MustParsePrefix("10.1.0.0/16")

	require.NoError(t, r.Resolve(routing.RouteSet{Prefix: prefix, Routes: []routing.Route{route("10.1.0.0/16", "10.0.0.5")}}))
	require.NoError(t, r.Resolve(routing.RouteSet{Prefix: prefix, Routes: []routing.Route{}}))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, time.Second, time.Millisecond)
	for _, c := range sink.snapshot() {
		assert.True(t, c.remove)
		assert.Equal(t, prefix, c.prefix)
	}
}

func TestResolve_DeletedSetIsNoop(t *testing.T) {
	r, _, sink := newResolver(t, 1)
	prefix := netip.MustParsePrefix("10.1.0.0/16")

	require.NoError(t, r.Resolve(routing.RouteSet{Prefix: prefix, Routes: nil}))
	// a marker after the deleted set proves the deleted one was processed
	require.NoError(t, r.Resolve(routing.RouteSet{Prefix: prefix, Routes: []routing.Route{}}))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, sink.snapshot()[0].remove)
}

func TestResolve_PerPrefixOrdering(t *testing.T) {
	r, hosts, sink := newResolver(t, 4)
	const prefixes, rounds = 8, 50
	for i := 0; i < rounds; i++ {
		addHost(t, hosts, fmt.Sprintf("h%d", i), macA, fmt.Sprintf("192.168.0.%d", i+1))
	}

	for i := 0; i < rounds; i++ {
		for p := 0; p < prefixes; p++ {
			pfx := fmt.Sprintf("10.%d.0.0/16", p)
			require.NoError(t, r.Resolve(routing.RouteSet{
				Prefix: netip.MustParsePrefix(pfx),
				Routes: []routing.Route{route(pfx, fmt.Sprintf("192.168.0.%d", i+1))},
			}))
		}
	}

	require.Eventually(t, func() bool { return len(sink.snapshot()) == prefixes*rounds }, 2*time.Second, time.Millisecond)
	last := make(map[netip.Prefix]int)
	for _, c := range sink.snapshot() {
		n := int(c.best.NextHop.As4()[3])
		require.Greater(t, n, last[c.prefix], "prefix %s applied out of order", c.prefix)
		last[c.prefix] = n
	}
}

func TestResolve_AfterClose(t *testing.T) {
	r, _, _ := newResolver(t, 1)
	r.Close()
	assert.Error(t, r.Resolve(routing.RouteSet{Prefix: netip.MustParsePrefix("10.0.0.0/8")}))
}

func TestDecide_LowerNextHopWins(t *testing.T) {
	a := routing.ResolvedRoute{Route: route("10.1.0.0/16", "10.0.0.5"), NextHopMAC: macA}
	b := routing.ResolvedRoute{Route: route("10.1.0.0/16", "10.0.0.9"), NextHopMAC: macB}

	assert.Equal(t, a.NextHop, Decide(a, b).NextHop)
	assert.Equal(t, a.NextHop, Decide(b, a).NextHop)
}

func drawResolved(t *rapid.T, label string) routing.ResolvedRoute {
	last := rapid.ByteRange(1, 4).Draw(t, label+"-nh")
	node := rapid.SampledFrom([]string{"node-1", "node-2"}).Draw(t, label+"-node")
	src := rapid.SampledFrom([]routing.Source{routing.SourceStatic, routing.SourceBGP}).Draw(t, label+"-src")
	mac := rapid.SampledFrom([]net.HardwareAddr{macA, macB}).Draw(t, label+"-mac")
	return routing.ResolvedRoute{
		Route: routing.Route{
			Source:     src,
			Prefix:     netip.MustParsePrefix("10.1.0.0/16"),
			NextHop:    netip.AddrFrom4([4]byte{10, 0, 0, last}),
			SourceNode: node,
		},
		NextHopMAC:  mac,
		NextHopVLAN: routing.VlanID(rapid.Uint16Range(1, 3).Draw(t, label+"-vlan")),
	}
}

func TestDecide_Commutative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := drawResolved(t, "a")
		b := drawResolved(t, "b")
		if !Decide(a, b).Equal(Decide(b, a)) {
			t.Fatalf("decide(%s, %s) not commutative", a, b)
		}
	})
}

func TestDecide_Associative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := drawResolved(t, "a")
		b := drawResolved(t, "b")
		c := drawResolved(t, "c")
		left := Decide(Decide(a, b), c)
		right := Decide(a, Decide(b, c))
		if !left.Equal(right) {
			t.Fatalf("decide not associative: %s vs %s", left, right)
		}
	})
}
