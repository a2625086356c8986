// Package daemon assembles the routemesh node as an fx application.
//
// Components are provided in dependency order: logging and metrics, the
// declared-route store and host discovery, the route manager, the reaper with
// its work queue and lock, then the HTTP and gRPC servers. Lifecycle hooks
// start them in that order and stop them in reverse.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/routemesh-go/internal/cluster"
	"github.com/rmacdonaldsmith/routemesh-go/internal/config"
	"github.com/rmacdonaldsmith/routemesh-go/internal/coordination"
	"github.com/rmacdonaldsmith/routemesh-go/internal/grpchealth"
	"github.com/rmacdonaldsmith/routemesh-go/internal/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/internal/httpapi"
	"github.com/rmacdonaldsmith/routemesh-go/internal/logging"
	"github.com/rmacdonaldsmith/routemesh-go/internal/metrics"
	"github.com/rmacdonaldsmith/routemesh-go/internal/routemanager"
	"github.com/rmacdonaldsmith/routemesh-go/internal/routemonitor"
	"github.com/rmacdonaldsmith/routemesh-go/internal/routestore"
	pkgcluster "github.com/rmacdonaldsmith/routemesh-go/pkg/cluster"
	pkgcoord "github.com/rmacdonaldsmith/routemesh-go/pkg/coordination"
	pkghost "github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
	pkgstore "github.com/rmacdonaldsmith/routemesh-go/pkg/routestore"
)

// ReaperQueueName namespaces the reaper's work items in the badger store
const ReaperQueueName = "route-reaper"

// New builds the node application for cfg.
func New(cfg config.Config, opts ...fx.Option) *fx.App {
	return fx.New(
		Module(cfg),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		fx.Options(opts...),
	)
}

// Module provides every node component and registers their lifecycle.
func Module(cfg config.Config) fx.Option {
	if err := cfg.Validate(); err != nil {
		return fx.Error(fmt.Errorf("invalid configuration: %w", err))
	}
	return fx.Module("routemesh",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideRegistry,
			provideMetrics,
			provideRouteStore,
			provideHostService,
			provideCluster,
			provideWorkQueue,
			provideLock,
			provideManager,
			provideMonitor,
			provideGRPC,
			provideHTTP,
			provideServers,
		),
		fx.Invoke(func(*Servers) {}),
	)
}

func provideLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("node", cfg.NodeID))
	lc.Append(fx.StopHook(func() {
		_ = closer.Close()
	}))
	return logger, nil
}

func provideRegistry() (*prometheus.Registry, prometheus.Gatherer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideRouteStore(lc fx.Lifecycle) pkgstore.Store {
	store := routestore.NewInMemoryStore()
	lc.Append(fx.StopHook(store.Close))
	return store
}

// provideHostService seeds the registry with the configured static hosts.
func provideHostService(cfg config.Config) (*hostservice.InMemoryService, pkghost.Service, error) {
	hosts := hostservice.NewInMemoryService()
	for _, entry := range cfg.Hosts {
		h, err := entry.Host()
		if err != nil {
			return nil, nil, err
		}
		if err := hosts.AddHost(h); err != nil {
			return nil, nil, fmt.Errorf("failed to add host %s: %w", h.ID, err)
		}
	}
	return hosts, hosts, nil
}

func provideCluster(cfg config.Config) (*cluster.StaticService, pkgcluster.Service, error) {
	peers := make([]pkgcluster.Node, 0, len(cfg.Cluster.Peers))
	for _, p := range cfg.Cluster.Peers {
		peers = append(peers, pkgcluster.Node{ID: pkgcluster.NodeID(p.ID), Address: p.Address})
	}
	local := pkgcluster.Node{ID: pkgcluster.NodeID(cfg.NodeID), Address: cfg.Cluster.Address}
	svc, err := cluster.NewStaticService(local, peers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build cluster view: %w", err)
	}
	return svc, svc, nil
}

func provideWorkQueue(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*coordination.BadgerWorkQueue, pkgcoord.WorkQueue, error) {
	q, err := coordination.OpenBadgerWorkQueue(coordination.QueueConfig{
		Name:         ReaperQueueName,
		Dir:          cfg.Reaper.DataDir,
		InMemory:     cfg.Reaper.InMemory,
		LeaseTimeout: cfg.Reaper.LeaseTimeout,
		PollInterval: cfg.Reaper.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open reaper queue: %w", err)
	}
	lc.Append(fx.StopHook(q.Close))
	return q, q, nil
}

func provideLock() pkgcoord.Lock {
	return coordination.NewLocalLock()
}

func provideManager(cfg config.Config, store pkgstore.Store, hosts pkghost.Service,
	logger *zap.Logger, m *metrics.Metrics) (*routemanager.Manager, error) {
	mgrConfig := routemanager.NewConfig(cfg.NodeID).
		WithResolverBuckets(cfg.ResolverBuckets).
		WithHostBuckets(cfg.HostBuckets)
	return routemanager.NewManager(mgrConfig, store, hosts, logger, m)
}

func provideMonitor(cfg config.Config, mgr *routemanager.Manager, clusterService pkgcluster.Service,
	lock pkgcoord.Lock, queue pkgcoord.WorkQueue, logger *zap.Logger, m *metrics.Metrics) (*routemonitor.Monitor, error) {
	return routemonitor.New(routemonitor.Config{
		LockTimeout: cfg.Reaper.LockTimeout,
		Parallelism: cfg.Reaper.Parallelism,
	}, mgr, clusterService, lock, queue, logger, m)
}

func provideGRPC(logger *zap.Logger) *grpchealth.Server {
	return grpchealth.NewServer(logger)
}

func provideHTTP(cfg config.Config, mgr *routemanager.Manager, queue pkgcoord.WorkQueue,
	hosts *hostservice.InMemoryService, members *cluster.StaticService,
	gatherer prometheus.Gatherer, logger *zap.Logger) *httpapi.Server {
	health := func() httpapi.HealthResponse {
		return healthResponse(mgr.Health(), queue.Status())
	}
	return httpapi.NewServer(mgr, health, gatherer, httpapi.Config{
		Listen:    cfg.HTTP.Listen,
		SecretKey: cfg.HTTP.SecretKey,
		NoAuth:    cfg.HTTP.NoAuth,
	}, logger, httpapi.WithHosts(hosts), httpapi.WithMembership(members))
}

func healthResponse(h routemanager.Health, queueStatus pkgcoord.QueueStatus) httpapi.HealthResponse {
	prefixes := make(map[string]int, len(h.Prefixes))
	for table, n := range h.Prefixes {
		prefixes[string(table)] = n
	}
	resp := httpapi.HealthResponse{
		Healthy:            h.Healthy(),
		NodeID:             h.NodeID,
		Started:            h.Started,
		Listeners:          h.Listeners,
		PendingResolutions: h.PendingResolutions,
		Prefixes:           prefixes,
		ReaperQueue:        queueStatus.String(),
	}
	switch {
	case h.Closed:
		resp.Message = "route manager closed"
	case !h.Started:
		resp.Message = "route manager not started"
	case queueStatus != pkgcoord.QueueActive:
		resp.Message = "reaper queue " + queueStatus.String()
	}
	return resp
}

// Servers runs the network listeners of a node
type Servers struct {
	cfg    config.Config
	http   *httpapi.Server
	grpc   *grpchealth.Server
	logger *zap.Logger

	mu       sync.Mutex
	httpAddr net.Addr
	group    errgroup.Group
}

// HTTPAddr returns the bound HTTP address, or nil before start.
func (s *Servers) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, or nil before start.
func (s *Servers) GRPCAddr() net.Addr {
	return s.grpc.Addr()
}

func (s *Servers) start(shutdowner fx.Shutdowner) error {
	if err := s.grpc.Start(s.cfg.GRPC.Listen); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.HTTP.Listen)
	if err != nil {
		return multierr.Append(
			fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTP.Listen, err),
			s.grpc.Stop(context.Background()))
	}
	s.mu.Lock()
	s.httpAddr = ln.Addr()
	s.mu.Unlock()

	s.group.Go(func() error {
		if err := s.http.Serve(ln); err != nil {
			s.logger.Error("http api failed", zap.Error(err))
			_ = shutdowner.Shutdown(fx.ExitCode(1))
			return err
		}
		return nil
	})
	return nil
}

func (s *Servers) stop(ctx context.Context) error {
	err := s.http.Stop(ctx)
	err = multierr.Append(err, s.grpc.Stop(ctx))
	if serveErr := s.group.Wait(); serveErr != nil && !errors.Is(serveErr, net.ErrClosed) {
		err = multierr.Append(err, serveErr)
	}
	return err
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     config.Config
	Logger     *zap.Logger
	Manager    *routemanager.Manager
	Monitor    *routemonitor.Monitor
	Queue      pkgcoord.WorkQueue
	HTTP       *httpapi.Server
	GRPC       *grpchealth.Server
}

// provideServers registers the lifecycle: the manager starts before the
// reaper and the servers start last.
func provideServers(p lifecycleParams) *Servers {
	servers := &Servers{
		cfg:    p.Config,
		http:   p.HTTP,
		grpc:   p.GRPC,
		logger: p.Logger,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Manager.Start(ctx); err != nil {
				return fmt.Errorf("failed to start route manager: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return p.Manager.Close()
		},
	})

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return p.Monitor.Start()
		},
		OnStop: p.Monitor.Shutdown,
	})

	var untrack func()
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := servers.start(p.Shutdowner); err != nil {
				return err
			}
			p.GRPC.SetServing(grpchealth.RouteService, true)
			untrack = p.GRPC.TrackQueue(p.Queue)
			p.Logger.Info("routemesh node started",
				zap.Stringer("http", servers.HTTPAddr()),
				zap.Stringer("grpc", servers.GRPCAddr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if untrack != nil {
				untrack()
			}
			p.GRPC.SetServing(grpchealth.RouteService, false)
			return servers.stop(ctx)
		},
	})

	return servers
}
