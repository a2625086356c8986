// Package routing defines the value types and service contracts of the route
// resolution core.
//
// This package contains the abstractions shared by every other component:
//   - Route: an immutable unicast route declared by an external client
//   - RouteSet: every route currently declared for one prefix
//   - ResolvedRoute: a Route annotated with the link-layer reachability of its next hop
//   - RouteEvent: a sealed union (RouteAdded, RouteRemoved) describing a best-route change
//   - RouteListener: a subscriber receiving RouteEvents in production order
//   - RouteService / RouteAdminService: the public read and write surfaces
//
// Declared routes are written through RouteAdminService and resolved asynchronously.
// Callers never observe resolution synchronously; success is inferred by watching
// RouteEvents or by polling the read surface.
//
// Example usage:
//
//	route, err := routing.NewRoute(routing.SourceStatic,
//		netip.MustParsePrefix("10.0.0.0/24"), netip.MustParseAddr("192.168.1.1"), "node-1")
//	if err != nil {
//		return err
//	}
//	if err := admin.Update(ctx, []routing.Route{route}); err != nil {
//		return err
//	}
//
//	admin.AddListener(routing.NewListenerFunc("fib-writer", func(ev routing.RouteEvent) {
//		switch e := ev.(type) {
//		case routing.RouteAdded:
//			programFIB(e.Best)
//		case routing.RouteRemoved:
//			removeFIB(e.Last.Prefix)
//		}
//	}))
package routing
