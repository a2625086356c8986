package routing

import (
	"context"
	"net/netip"
)

// RouteService is the read surface of the route resolution core.
type RouteService interface {
	// AddListener registers a listener. The listener first receives one RouteAdded
	// per currently stored best route, then every later event in order.
	AddListener(listener RouteListener)

	// RemoveListener unregisters a listener and discards its undelivered events.
	// Removing an unknown listener is a no-op.
	RemoveListener(listener RouteListener)

	// RouteTables returns every known route table.
	RouteTables(ctx context.Context) ([]TableID, error)

	// Routes returns declared and resolved state joined per prefix.
	Routes(ctx context.Context, table TableID) ([]RouteInfo, error)

	// ResolvedRoutes returns the best route of every prefix in the table.
	ResolvedRoutes(ctx context.Context, table TableID) ([]ResolvedRoute, error)

	// BestRoute returns the stored best route for an exact prefix.
	BestRoute(ctx context.Context, prefix netip.Prefix) (ResolvedRoute, bool)

	// AllResolvedRoutes returns every resolved candidate stored for an exact prefix.
	AllResolvedRoutes(ctx context.Context, prefix netip.Prefix) ([]ResolvedRoute, error)

	// LongestPrefixLookup is an alias of LongestPrefixMatch.
	//
	// Deprecated: use LongestPrefixMatch.
	LongestPrefixLookup(ctx context.Context, ip netip.Addr) (ResolvedRoute, bool)

	// LongestPrefixMatch returns the best route of the most specific stored prefix covering ip.
	LongestPrefixMatch(ctx context.Context, ip netip.Addr) (ResolvedRoute, bool)
}

// RouteAdminService adds the write surface.
// Writes go to the declared-route store; resolution happens asynchronously afterwards.
type RouteAdminService interface {
	RouteService

	// Update declares or replaces routes.
	Update(ctx context.Context, routes []Route) error

	// Withdraw removes declared routes. Withdrawing an unknown route is a no-op.
	Withdraw(ctx context.Context, routes []Route) error
}
