package daemon

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rmacdonaldsmith/routemesh-go/internal/cluster"
	"github.com/rmacdonaldsmith/routemesh-go/internal/config"
	"github.com/rmacdonaldsmith/routemesh-go/internal/grpchealth"
	"github.com/rmacdonaldsmith/routemesh-go/internal/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/internal/httpapi"
	pkgcluster "github.com/rmacdonaldsmith/routemesh-go/pkg/cluster"
	pkghost "github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/httpclient"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

const testSecret = "daemon-test-secret"

func testConfig() config.Config {
	cfg := config.Default()
	cfg.NodeID = "node-1"
	cfg.ResolverBuckets = 2
	cfg.HostBuckets = 2
	cfg.Cluster.Peers = []config.Peer{{ID: "node-2", Address: "10.255.0.2:9091"}}
	cfg.Reaper.InMemory = true
	cfg.Reaper.PollInterval = 10 * time.Millisecond
	cfg.Reaper.LockTimeout = time.Second
	cfg.HTTP.Listen = "127.0.0.1:0"
	cfg.HTTP.SecretKey = testSecret
	cfg.GRPC.Listen = "127.0.0.1:0"
	cfg.Log.Level = "error"
	return cfg
}

type node struct {
	servers  *Servers
	hosts    *hostservice.InMemoryService
	cluster  *cluster.StaticService
	gatherer prometheus.Gatherer
}

func startNode(t *testing.T) node {
	t.Helper()
	return startNodeWith(t, testConfig())
}

func startNodeWith(t *testing.T, cfg config.Config) node {
	t.Helper()
	var n node
	app := fxtest.New(t,
		Module(cfg),
		fx.Populate(&n.servers, &n.hosts, &n.cluster, &n.gatherer),
	)
	app.RequireStart()
	t.Cleanup(app.RequireStop)
	return n
}

func adminClient(t *testing.T, addr net.Addr) *httpclient.Client {
	t.Helper()
	client, err := httpclient.NewClient(httpclient.Config{
		ServerURL: "http://" + addr.String(),
		ClientID:  "operator",
	})
	require.NoError(t, err)

	token, _, err := httpapi.NewJWTAuth(testSecret).GenerateToken("operator", true)
	require.NoError(t, err)
	client.SetToken(token)
	return client
}

func mustHost(t *testing.T, mac, ip string) pkghost.Host {
	t.Helper()
	hw, err := net.ParseMAC(mac)
	require.NoError(t, err)
	return pkghost.Host{
		ID:          pkghost.NewHostID(hw, routing.VlanNone),
		MAC:         hw,
		VLAN:        routing.VlanNone,
		IPAddresses: []netip.Addr{netip.MustParseAddr(ip)},
	}
}

// TestModule_InvalidConfig tests that an invalid configuration fails the app
func TestModule_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.NodeID = ""

	app := fx.New(Module(cfg), fx.NopLogger)
	assert.ErrorContains(t, app.Err(), config.ErrEmptyNodeID.Error())
}

// TestNode_ServesRoutes tests the assembled node end to end over HTTP
func TestNode_ServesRoutes(t *testing.T) {
	n := startNode(t)
	client := adminClient(t, n.servers.HTTPAddr())
	ctx := context.Background()

	health, err := client.GetHealth(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Equal(t, "node-1", health.NodeID)
	assert.Equal(t, "ACTIVE", health.ReaperQueue)

	require.NoError(t, n.hosts.AddHost(mustHost(t, "aa:bb:cc:dd:ee:01", "192.168.1.1")))

	accepted, err := client.UpdateRoutes(ctx, []httpclient.Route{
		{Prefix: "10.0.0.0/24", NextHop: "192.168.1.1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)

	require.Eventually(t, func() bool {
		route, err := client.Lookup(ctx, "10.0.0.42")
		return err == nil && route.Resolved
	}, 5*time.Second, 10*time.Millisecond)

	route, err := client.Lookup(ctx, "10.0.0.42")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", route.NextHopMAC)
	assert.Equal(t, "node-1", route.SourceNode)

	families, err := n.gatherer.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

// TestNode_ReapsDepartedPeer tests that a deactivated peer's routes are withdrawn
func TestNode_ReapsDepartedPeer(t *testing.T) {
	n := startNode(t)
	client := adminClient(t, n.servers.HTTPAddr())
	ctx := context.Background()

	_, err := client.AddHost(ctx, httpclient.HostRequest{MAC: "aa:bb:cc:dd:ee:02", IPs: []string{"192.168.1.2"}})
	require.NoError(t, err)
	_, err = client.UpdateRoutes(ctx, []httpclient.Route{
		{Prefix: "10.1.0.0/16", NextHop: "192.168.1.2", SourceNode: "node-2"},
		{Prefix: "10.2.0.0/16", NextHop: "192.168.1.2"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		routes, err := client.ResolvedRoutes(ctx, "ipv4")
		return err == nil && len(routes) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.SetNodeState(ctx, "node-2", "INACTIVE"))
	assert.Equal(t, pkgcluster.Inactive, n.cluster.State("node-2"))

	require.Eventually(t, func() bool {
		routes, err := client.ResolvedRoutes(ctx, "ipv4")
		return err == nil && len(routes) == 1 && routes[0].Prefix == "10.2.0.0/16"
	}, 5*time.Second, 10*time.Millisecond)

	_, err = client.Prefix(ctx, "10.1.0.0/16")
	assert.True(t, httpclient.IsNotFound(err))

	nodes, err := client.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "INACTIVE", nodes[1].State)
}

// TestNode_ConfiguredAndRemovedHosts tests that hosts from the configuration
// resolve routes and that removing one over HTTP un-resolves them
func TestNode_ConfiguredAndRemovedHosts(t *testing.T) {
	cfg := testConfig()
	cfg.Hosts = []config.HostEntry{
		{MAC: "aa:bb:cc:dd:ee:03", VLAN: 30, IPs: []string{"192.168.3.1"}},
	}
	n := startNodeWith(t, cfg)
	client := adminClient(t, n.servers.HTTPAddr())
	ctx := context.Background()

	hosts, err := client.Hosts(ctx)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:03/30", hosts[0].ID)

	_, err = client.UpdateRoutes(ctx, []httpclient.Route{{Prefix: "10.3.0.0/16", NextHop: "192.168.3.1"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		route, err := client.Lookup(ctx, "10.3.1.1")
		return err == nil && route.NextHopVLAN == "30"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.RemoveHost(ctx, hosts[0].ID))
	require.Eventually(t, func() bool {
		_, err := client.Lookup(ctx, "10.3.1.1")
		return httpclient.IsNotFound(err)
	}, 5*time.Second, 10*time.Millisecond)

	infos, err := client.Routes(ctx, "ipv4")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Nil(t, infos[0].Best)
}

// TestNode_GRPCHealth tests the gRPC health endpoint of a running node
func TestNode_GRPCHealth(t *testing.T) {
	n := startNode(t)

	conn, err := grpc.NewClient(n.servers.GRPCAddr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	hc := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, svc := range []string{"", grpchealth.RouteService, grpchealth.ReaperService} {
		resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus(), "service %q", svc)
	}
}
