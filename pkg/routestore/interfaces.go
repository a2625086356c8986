// Package routestore provides the contract of the declared-route store.
//
// The declared-route store holds raw routes exactly as clients declared them,
// grouped per table and prefix. It knows nothing about next-hop reachability.
// Replication and persistence of this store are the store's own concern; the
// resolution core only consumes the interface below and the Delegate callbacks.
//
// The interfaces use Go idioms:
//   - context.Context for cancellation on every blocking call
//   - Explicit error returns following Go conventions
//   - A single delegate function instead of a listener registry
package routestore

import (
	"context"
	"io"
	"net/netip"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// EventType represents the kind of change applied to a RouteSet
type EventType int

const (
	// RouteAdded is emitted when a route is declared or replaced
	RouteAdded EventType = iota

	// RouteRemoved is emitted when a route is withdrawn
	RouteRemoved
)

func (t EventType) String() string {
	switch t {
	case RouteAdded:
		return "ROUTE_ADDED"
	case RouteRemoved:
		return "ROUTE_REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Event carries the complete RouteSet of the prefix after the change
type Event struct {
	Type    EventType
	Subject routing.RouteSet
}

// Delegate receives store events.
// Implementations must not block; the store serializes delegate calls in mutation order.
type Delegate func(Event)

// Store is the declared-route store.
type Store interface {
	io.Closer

	// RouteTables returns every known route table.
	RouteTables(ctx context.Context) ([]routing.TableID, error)

	// Routes returns every RouteSet of a table.
	Routes(ctx context.Context, table routing.TableID) ([]routing.RouteSet, error)

	// RouteSet returns the routes currently declared for prefix. A prefix with
	// no declared route yields an empty, non-nil Routes slice.
	RouteSet(ctx context.Context, prefix netip.Prefix) (routing.RouteSet, error)

	// RoutesForNextHops returns every RouteSet containing a route via one of the given next hops.
	RoutesForNextHops(ctx context.Context, nextHops []netip.Addr) ([]routing.RouteSet, error)

	// UpdateRoutes declares or replaces routes.
	UpdateRoutes(ctx context.Context, routes []routing.Route) error

	// RemoveRoutes withdraws routes. Unknown routes are ignored.
	RemoveRoutes(ctx context.Context, routes []routing.Route) error

	// SetDelegate installs the single event delegate, replacing any previous one.
	SetDelegate(delegate Delegate)

	// UnsetDelegate removes the delegate.
	UnsetDelegate()
}
