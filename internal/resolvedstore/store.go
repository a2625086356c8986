// Package resolvedstore holds the authoritative best route and resolved
// alternatives of every prefix, per routing table, with longest-prefix match.
package resolvedstore

import (
	"net/netip"
	"slices"
	"sync"

	"github.com/gaissmai/bart"

	"github.com/rmacdonaldsmith/routemesh-go/internal/metrics"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// Store manages per-table prefix maps and tries.
//
// Writers are expected to respect per-prefix ordering (the resolver shards
// guarantee this); the store itself only guarantees that readers observe a
// consistent entry per prefix.
type Store struct {
	mu      sync.RWMutex
	tables  map[routing.TableID]*table
	metrics *metrics.Metrics
}

type table struct {
	mu      sync.RWMutex
	entries map[netip.Prefix]*entry
	trie    bart.Table[*entry]
}

// entry is immutable once stored; updates replace the pointer.
type entry struct {
	prefix netip.Prefix
	best   routing.ResolvedRoute
	alts   []routing.ResolvedRoute
}

// New creates a Store with the default IPv4 and IPv6 tables.
func New(m *metrics.Metrics) *Store {
	s := &Store{
		tables:  make(map[routing.TableID]*table),
		metrics: m,
	}
	s.table(routing.IPv4Table, true)
	s.table(routing.IPv6Table, true)
	return s
}

func (s *Store) table(id routing.TableID, create bool) *table {
	s.mu.RLock()
	t := s.tables[id]
	s.mu.RUnlock()
	if t != nil || !create {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t = s.tables[id]; t == nil {
		t = &table{entries: make(map[netip.Prefix]*entry)}
		s.tables[id] = t
	}
	return t
}

// UpdateRoute replaces the stored state of best's prefix.
//
// Alternatives are always replaced. An event is returned only when the best
// route differs from the one already stored.
func (s *Store) UpdateRoute(best routing.ResolvedRoute, alternatives []routing.ResolvedRoute) (routing.RouteEvent, bool) {
	tableID := best.Table()
	t := s.table(tableID, true)
	alts := slices.Clone(alternatives)

	t.mu.Lock()
	prev, existed := t.entries[best.Prefix]
	e := &entry{prefix: best.Prefix, best: best, alts: alts}
	t.entries[best.Prefix] = e
	t.trie.Insert(best.Prefix, e)
	size := len(t.entries)
	t.mu.Unlock()

	if !existed {
		s.metrics.StorePrefixes(string(tableID), size)
	}
	if existed && prev.best.Equal(best) {
		return nil, false
	}
	s.metrics.StoreEvent(string(routing.EventRouteAdded))
	return routing.RouteAdded{Best: best, Alts: slices.Clone(alts)}, true
}

// RemoveRoute deletes the stored state of prefix, returning a RouteRemoved
// that references the last best route. Nothing is returned if the prefix was absent.
func (s *Store) RemoveRoute(prefix netip.Prefix) (routing.RouteEvent, bool) {
	tableID := routing.TableFor(prefix)
	t := s.table(tableID, false)
	if t == nil {
		return nil, false
	}

	t.mu.Lock()
	prev, existed := t.entries[prefix]
	if existed {
		delete(t.entries, prefix)
		t.trie.Delete(prefix)
	}
	size := len(t.entries)
	t.mu.Unlock()

	if !existed {
		return nil, false
	}
	s.metrics.StorePrefixes(string(tableID), size)
	s.metrics.StoreEvent(string(routing.EventRouteRemoved))
	return routing.RouteRemoved{Last: prev.best}, true
}

// RouteTables returns every table, sorted by name.
func (s *Store) RouteTables() []routing.TableID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]routing.TableID, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Routes returns the best route of every prefix in a table, ordered by prefix.
func (s *Store) Routes(id routing.TableID) []routing.ResolvedRoute {
	t := s.table(id, false)
	if t == nil {
		return nil
	}

	t.mu.RLock()
	routes := make([]routing.ResolvedRoute, 0, len(t.entries))
	for _, e := range t.entries {
		routes = append(routes, e.best)
	}
	t.mu.RUnlock()

	slices.SortFunc(routes, func(a, b routing.ResolvedRoute) int {
		return comparePrefix(a.Prefix, b.Prefix)
	})
	return routes
}

// AllRoutes returns the best route of every prefix in every table.
func (s *Store) AllRoutes() []routing.ResolvedRoute {
	var all []routing.ResolvedRoute
	for _, id := range s.RouteTables() {
		all = append(all, s.Routes(id)...)
	}
	return all
}

// Get returns the best route stored for an exact prefix.
func (s *Store) Get(prefix netip.Prefix) (routing.ResolvedRoute, bool) {
	e := s.lookupExact(prefix)
	if e == nil {
		return routing.ResolvedRoute{}, false
	}
	return e.best, true
}

// Alternatives returns every resolved candidate stored for an exact prefix.
func (s *Store) Alternatives(prefix netip.Prefix) []routing.ResolvedRoute {
	e := s.lookupExact(prefix)
	if e == nil {
		return nil
	}
	return slices.Clone(e.alts)
}

func (s *Store) lookupExact(prefix netip.Prefix) *entry {
	t := s.table(routing.TableFor(prefix), false)
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[prefix]
}

// LongestPrefixMatch returns the best route of the most specific stored
// prefix covering ip. Equal-length matches in different tables are broken by
// table name order.
func (s *Store) LongestPrefixMatch(ip netip.Addr) (routing.ResolvedRoute, bool) {
	if !ip.IsValid() {
		return routing.ResolvedRoute{}, false
	}
	ip = ip.Unmap()

	var found *entry
	for _, id := range s.RouteTables() {
		t := s.table(id, false)
		if t == nil {
			continue
		}
		t.mu.RLock()
		e, ok := t.trie.Lookup(ip)
		t.mu.RUnlock()
		if !ok {
			continue
		}
		if found == nil || e.prefix.Bits() > found.prefix.Bits() {
			found = e
		}
	}
	if found == nil {
		return routing.ResolvedRoute{}, false
	}
	return found.best, true
}

// Len returns the number of stored prefixes in a table.
func (s *Store) Len(id routing.TableID) int {
	t := s.table(id, false)
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func comparePrefix(a, b netip.Prefix) int {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	return a.Bits() - b.Bits()
}
