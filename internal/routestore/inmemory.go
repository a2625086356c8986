package routestore

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/routestore"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

var (
	// ErrClosed is returned when the store has been closed
	ErrClosed = errors.New("route store is closed")
	// ErrInvalidRoute is returned when a declared route fails validation
	ErrInvalidRoute = errors.New("invalid route")
)

// InMemoryStore implements routestore.Store with in-process maps.
// Each table maps a prefix to the set of routes declared for it. It is safe for concurrent use.
//
// The delegate is called after the data lock is released, but under notifyMu,
// so delegate calls observe mutation order and may read the store.
type InMemoryStore struct {
	mu            sync.RWMutex
	routesByTable map[routing.TableID]map[netip.Prefix]map[routing.Route]struct{}
	closed        bool

	notifyMu sync.Mutex
	delegate routestore.Delegate
}

// NewInMemoryStore creates an empty declared-route store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		routesByTable: map[routing.TableID]map[netip.Prefix]map[routing.Route]struct{}{
			routing.IPv4Table: {},
			routing.IPv6Table: {},
		},
	}
}

// RouteTables returns every table, sorted by name.
func (s *InMemoryStore) RouteTables(ctx context.Context) ([]routing.TableID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	tables := make([]routing.TableID, 0, len(s.routesByTable))
	for id := range s.routesByTable {
		tables = append(tables, id)
	}
	slices.Sort(tables)
	return tables, nil
}

// Routes returns every RouteSet of a table, ordered by prefix.
func (s *InMemoryStore) Routes(ctx context.Context, table routing.TableID) ([]routing.RouteSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	prefixes := s.routesByTable[table]
	sets := make([]routing.RouteSet, 0, len(prefixes))
	for prefix := range prefixes {
		sets = append(sets, s.routeSetLocked(table, prefix))
	}
	sortSets(sets)
	return sets, nil
}

// RouteSet returns the current declared set of prefix.
func (s *InMemoryStore) RouteSet(ctx context.Context, prefix netip.Prefix) (routing.RouteSet, error) {
	if err := ctx.Err(); err != nil {
		return routing.RouteSet{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return routing.RouteSet{}, ErrClosed
	}
	return s.routeSetLocked(routing.TableFor(prefix), prefix), nil
}

// RoutesForNextHops returns every RouteSet with at least one route via one of nextHops.
func (s *InMemoryStore) RoutesForNextHops(ctx context.Context, nextHops []netip.Addr) ([]routing.RouteSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(nextHops) == 0 {
		return []routing.RouteSet{}, nil
	}
	wanted := make(map[netip.Addr]struct{}, len(nextHops))
	for _, ip := range nextHops {
		wanted[ip] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var sets []routing.RouteSet
	for table, prefixes := range s.routesByTable {
		for prefix, routes := range prefixes {
			for r := range routes {
				if _, ok := wanted[r.NextHop]; ok {
					sets = append(sets, s.routeSetLocked(table, prefix))
					break
				}
			}
		}
	}
	sortSets(sets)
	return sets, nil
}

// UpdateRoutes declares routes. Re-declaring an identical route changes nothing
// and emits no event.
func (s *InMemoryStore) UpdateRoutes(ctx context.Context, routes []routing.Route) error {
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRoute, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var events []routestore.Event
	for _, changed := range s.applyLocked(routes, true) {
		events = append(events, routestore.Event{
			Type:    routestore.RouteAdded,
			Subject: s.routeSetLocked(changed.Table(), changed.Prefix),
		})
	}
	s.mu.Unlock()

	s.dispatchLocked(events)
	return nil
}

// RemoveRoutes withdraws routes. Unknown routes are ignored.
// Removing the last route of a prefix emits a RouteSet with an empty, non-nil Routes slice.
func (s *InMemoryStore) RemoveRoutes(ctx context.Context, routes []routing.Route) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var events []routestore.Event
	for _, changed := range s.applyLocked(routes, false) {
		events = append(events, routestore.Event{
			Type:    routestore.RouteRemoved,
			Subject: s.routeSetLocked(changed.Table(), changed.Prefix),
		})
	}
	s.mu.Unlock()

	s.dispatchLocked(events)
	return nil
}

// SetDelegate installs the event delegate.
func (s *InMemoryStore) SetDelegate(delegate routestore.Delegate) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.delegate = delegate
}

// UnsetDelegate removes the event delegate.
func (s *InMemoryStore) UnsetDelegate() {
	s.SetDelegate(nil)
}

// Close marks the store closed. Idempotent.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// applyLocked adds or removes routes and returns one route per changed prefix,
// in first-seen order.
func (s *InMemoryStore) applyLocked(routes []routing.Route, add bool) []routing.Route {
	var changed []routing.Route
	seen := make(map[netip.Prefix]bool)
	for _, r := range routes {
		table := r.Table()
		prefixes := s.routesByTable[table]
		if prefixes == nil {
			prefixes = make(map[netip.Prefix]map[routing.Route]struct{})
			s.routesByTable[table] = prefixes
		}

		set := prefixes[r.Prefix]
		if add {
			if _, ok := set[r]; ok {
				continue
			}
			if set == nil {
				set = make(map[routing.Route]struct{})
				prefixes[r.Prefix] = set
			}
			set[r] = struct{}{}
		} else {
			if _, ok := set[r]; !ok {
				continue
			}
			delete(set, r)
			if len(set) == 0 {
				delete(prefixes, r.Prefix)
			}
		}

		if !seen[r.Prefix] {
			seen[r.Prefix] = true
			changed = append(changed, r)
		}
	}
	return changed
}

// routeSetLocked always returns a non-nil Routes slice.
func (s *InMemoryStore) routeSetLocked(table routing.TableID, prefix netip.Prefix) routing.RouteSet {
	set := s.routesByTable[table][prefix]
	routes := make([]routing.Route, 0, len(set))
	for r := range set {
		routes = append(routes, r)
	}
	slices.SortFunc(routes, compareRoutes)
	return routing.RouteSet{Table: table, Prefix: prefix, Routes: routes}
}

// dispatchLocked must be called with notifyMu held.
func (s *InMemoryStore) dispatchLocked(events []routestore.Event) {
	if s.delegate == nil {
		return
	}
	for _, ev := range events {
		s.delegate(ev)
	}
}

func compareRoutes(a, b routing.Route) int {
	if c := a.NextHop.Compare(b.NextHop); c != 0 {
		return c
	}
	if a.SourceNode != b.SourceNode {
		if a.SourceNode < b.SourceNode {
			return -1
		}
		return 1
	}
	if a.Source < b.Source {
		return -1
	}
	if a.Source > b.Source {
		return 1
	}
	return 0
}

func sortSets(sets []routing.RouteSet) {
	slices.SortFunc(sets, func(a, b routing.RouteSet) int {
		if c := a.Prefix.Addr().Compare(b.Prefix.Addr()); c != 0 {
			return c
		}
		return a.Prefix.Bits() - b.Prefix.Bits()
	})
}

var _ routestore.Store = (*InMemoryStore)(nil)
