// Package hostservice provides the contract of host discovery.
//
// Host discovery binds IP addresses to link-layer locations (MAC and VLAN).
// The route resolution core asks it which hosts currently answer on a next-hop
// address and listens for host lifecycle events to re-resolve affected routes.
package hostservice

import (
	"net"
	"net/netip"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// HostID uniquely identifies a host (conventionally "MAC/VLAN")
type HostID string

// NewHostID returns the conventional identity of the host seen with mac on vlan.
func NewHostID(mac net.HardwareAddr, vlan routing.VlanID) HostID {
	return HostID(mac.String() + "/" + vlan.String())
}

// Host is an end station seen on the network
type Host struct {
	ID          HostID
	MAC         net.HardwareAddr
	VLAN        routing.VlanID
	IPAddresses []netip.Addr
}

// HasIP reports whether the host owns ip.
func (h Host) HasIP(ip netip.Addr) bool {
	for _, a := range h.IPAddresses {
		if a == ip {
			return true
		}
	}
	return false
}

// EventType represents a host lifecycle transition
type EventType int

const (
	HostAdded EventType = iota
	HostUpdated
	HostMoved
	HostRemoved
)

func (t EventType) String() string {
	switch t {
	case HostAdded:
		return "HOST_ADDED"
	case HostUpdated:
		return "HOST_UPDATED"
	case HostMoved:
		return "HOST_MOVED"
	case HostRemoved:
		return "HOST_REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Event describes a host lifecycle transition.
// PrevSubject is set for HostUpdated and HostMoved when the previous state is known.
type Event struct {
	Type        EventType
	Subject     Host
	PrevSubject *Host
}

// Listener receives host events
type Listener func(Event)

// Service is the host discovery service.
type Service interface {
	// HostsByIP returns every host currently known to own ip.
	HostsByIP(ip netip.Addr) []Host

	// StartMonitoringIP registers ongoing interest in ip so that discovery
	// actively checks it and emits events when a host appears there.
	StartMonitoringIP(ip netip.Addr)

	// AddListener registers a listener and returns a function removing it.
	AddListener(listener Listener) (remove func())
}
