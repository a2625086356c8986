package routing

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

var (
	// ErrInvalidPrefix is returned when a route prefix is not a valid, masked prefix
	ErrInvalidPrefix = errors.New("route prefix must be a valid masked prefix")
	// ErrInvalidNextHop is returned when a route next hop is not a valid address
	ErrInvalidNextHop = errors.New("route next hop must be a valid address")
	// ErrFamilyMismatch is returned when prefix and next hop belong to different address families
	ErrFamilyMismatch = errors.New("route prefix and next hop address families differ")
)

// TableID identifies a logical routing table
type TableID string

const (
	// IPv4Table holds every IPv4 unicast route
	IPv4Table TableID = "ipv4"
	// IPv6Table holds every IPv6 unicast route
	IPv6Table TableID = "ipv6"
)

// TableFor returns the table a prefix belongs to.
func TableFor(prefix netip.Prefix) TableID {
	if prefix.Addr().Is4() {
		return IPv4Table
	}
	return IPv6Table
}

// Source tags the protocol or client that declared a route
type Source string

const (
	SourceStatic    Source = "STATIC"
	SourceFPM       Source = "FPM"
	SourceBGP       Source = "BGP"
	SourceOSPF      Source = "OSPF"
	SourceDHCP      Source = "DHCP"
	SourceUndefined Source = "UNDEFINED"
)

// VlanID is an 802.1Q VLAN identifier
type VlanID uint16

// VlanNone marks the absence of a VLAN tag
const VlanNone VlanID = 0xFFFF

// String returns the VLAN id or "None".
func (v VlanID) String() string {
	if v == VlanNone {
		return "None"
	}
	return fmt.Sprintf("%d", uint16(v))
}

// Route is an immutable unicast route declaration.
// Routes are never mutated, only replaced or withdrawn.
type Route struct {
	Source     Source
	Prefix     netip.Prefix
	NextHop    netip.Addr
	SourceNode string
}

// NewRoute builds and validates a Route.
func NewRoute(source Source, prefix netip.Prefix, nextHop netip.Addr, sourceNode string) (Route, error) {
	r := Route{
		Source:     source,
		Prefix:     prefix,
		NextHop:    nextHop,
		SourceNode: sourceNode,
	}
	if err := r.Validate(); err != nil {
		return Route{}, err
	}
	return r, nil
}

// Validate reports whether the route is well formed.
func (r Route) Validate() error {
	if !r.Prefix.IsValid() || r.Prefix.Masked() != r.Prefix {
		return fmt.Errorf("%w: %s", ErrInvalidPrefix, r.Prefix)
	}
	if !r.NextHop.IsValid() {
		return ErrInvalidNextHop
	}
	if r.Prefix.Addr().Is4() != r.NextHop.Unmap().Is4() {
		return fmt.Errorf("%w: %s via %s", ErrFamilyMismatch, r.Prefix, r.NextHop)
	}
	return nil
}

// Table returns the table this route belongs to.
func (r Route) Table() TableID {
	return TableFor(r.Prefix)
}

func (r Route) String() string {
	return fmt.Sprintf("%s via %s (%s from %s)", r.Prefix, r.NextHop, r.Source, r.SourceNode)
}

// RouteSet is the set of routes currently declared for one prefix.
//
// A nil Routes slice means the set was deleted before it could be processed;
// an empty, non-nil slice means the prefix no longer has any declared route.
type RouteSet struct {
	Table  TableID
	Prefix netip.Prefix
	Routes []Route
}

// Deleted reports whether the set vanished before it was processed.
func (s RouteSet) Deleted() bool {
	return s.Routes == nil
}

// ResolvedRoute is a Route annotated with the link-layer location of its next hop.
// A nil NextHopMAC means no host is currently known at the next hop.
type ResolvedRoute struct {
	Route
	NextHopMAC  net.HardwareAddr
	NextHopVLAN VlanID
}

// Unresolved wraps a route that has no known next-hop host.
func Unresolved(r Route) ResolvedRoute {
	return ResolvedRoute{Route: r, NextHopVLAN: VlanNone}
}

// Resolved reports whether the next hop has a known link-layer location.
func (r ResolvedRoute) Resolved() bool {
	return r.NextHopMAC != nil
}

// Equal reports value identity.
func (r ResolvedRoute) Equal(other ResolvedRoute) bool {
	return r.Route == other.Route &&
		bytes.Equal(r.NextHopMAC, other.NextHopMAC) &&
		r.NextHopVLAN == other.NextHopVLAN
}

func (r ResolvedRoute) String() string {
	if !r.Resolved() {
		return r.Route.String() + " unresolved"
	}
	return fmt.Sprintf("%s mac=%s vlan=%s", r.Route, r.NextHopMAC, r.NextHopVLAN)
}

// RouteInfo joins the declared and resolved state of one prefix.
type RouteInfo struct {
	Prefix netip.Prefix
	// Best is nil when no candidate currently resolves.
	Best *ResolvedRoute
	// AllRoutes lists every declared candidate, unresolved ones included.
	AllRoutes []ResolvedRoute
}
