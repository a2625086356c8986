package routing

// RouteEvent describes a change of the best route for a prefix.
// It always carries the complete current state for the prefix, never a delta.
//
// The set of variants is closed: RouteAdded and RouteRemoved.
type RouteEvent interface {
	// Subject returns the new best route (RouteAdded) or the last known best (RouteRemoved).
	Subject() ResolvedRoute

	// Alternatives returns every currently resolved candidate for the prefix.
	Alternatives() []ResolvedRoute

	isRouteEvent()
}

// RouteAdded reports a new or changed best route.
type RouteAdded struct {
	Best ResolvedRoute
	Alts []ResolvedRoute
}

func (e RouteAdded) Subject() ResolvedRoute        { return e.Best }
func (e RouteAdded) Alternatives() []ResolvedRoute { return e.Alts }
func (RouteAdded) isRouteEvent()                   {}

// RouteRemoved reports that a prefix no longer has a resolvable route.
type RouteRemoved struct {
	Last ResolvedRoute
	Alts []ResolvedRoute
}

func (e RouteRemoved) Subject() ResolvedRoute        { return e.Last }
func (e RouteRemoved) Alternatives() []ResolvedRoute { return e.Alts }
func (RouteRemoved) isRouteEvent()                   {}

// EventType names an event variant for logs, metrics and wire encodings.
type EventType string

const (
	EventRouteAdded   EventType = "ROUTE_ADDED"
	EventRouteRemoved EventType = "ROUTE_REMOVED"
)

// TypeOf returns the EventType of ev.
func TypeOf(ev RouteEvent) EventType {
	switch ev.(type) {
	case RouteAdded, *RouteAdded:
		return EventRouteAdded
	case RouteRemoved, *RouteRemoved:
		return EventRouteRemoved
	default:
		panic("routing: unknown RouteEvent variant")
	}
}

// RouteListener receives RouteEvents.
// Listeners are identified by ID; registering a second listener with the same ID
// replaces the first.
type RouteListener interface {
	// ID returns the unique identity of this listener
	ID() string

	// Event is invoked once per event, in production order, from a dedicated goroutine.
	Event(ev RouteEvent)
}

// ListenerFunc adapts a function into a RouteListener
type ListenerFunc struct {
	id string
	fn func(RouteEvent)
}

// NewListenerFunc creates a RouteListener with the given identity.
func NewListenerFunc(id string, fn func(RouteEvent)) *ListenerFunc {
	return &ListenerFunc{id: id, fn: fn}
}

// ID returns the listener identity
func (l *ListenerFunc) ID() string { return l.id }

// Event invokes the wrapped function
func (l *ListenerFunc) Event(ev RouteEvent) { l.fn(ev) }

var _ RouteListener = (*ListenerFunc)(nil)
