package hostservice

import (
	"errors"
	"net/netip"
	"slices"
	"sync"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
)

var (
	// ErrEmptyHostID is returned when a host has no identity
	ErrEmptyHostID = errors.New("host id cannot be empty")
	// ErrUnknownHost is returned when updating or removing a host that is not known
	ErrUnknownHost = errors.New("unknown host")
)

// InMemoryService is an in-process host registry.
// Listeners are invoked synchronously, outside the registry lock, in mutation order.
type InMemoryService struct {
	mu        sync.RWMutex
	hosts     map[hostservice.HostID]hostservice.Host
	monitored map[netip.Addr]struct{}

	// notifyMu keeps listener dispatch in mutation order
	notifyMu  sync.Mutex
	listeners map[int]hostservice.Listener
	nextID    int
}

// NewInMemoryService creates an empty host registry
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		hosts:     make(map[hostservice.HostID]hostservice.Host),
		monitored: make(map[netip.Addr]struct{}),
		listeners: make(map[int]hostservice.Listener),
	}
}

// HostsByIP returns every host currently owning ip, ordered by id.
func (s *InMemoryService) HostsByIP(ip netip.Addr) []hostservice.Host {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []hostservice.Host
	for _, h := range s.hosts {
		if h.HasIP(ip) {
			out = append(out, cloneHost(h))
		}
	}
	slices.SortFunc(out, func(a, b hostservice.Host) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Hosts returns every known host, ordered by id.
func (s *InMemoryService) Hosts() []hostservice.Host {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]hostservice.Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, cloneHost(h))
	}
	slices.SortFunc(out, func(a, b hostservice.Host) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Host returns a host by id.
func (s *InMemoryService) Host(id hostservice.HostID) (hostservice.Host, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hosts[id]
	return cloneHost(h), ok
}

// StartMonitoringIP records interest in ip.
func (s *InMemoryService) StartMonitoringIP(ip netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitored[ip] = struct{}{}
}

// IsMonitored reports whether StartMonitoringIP was called for ip.
func (s *InMemoryService) IsMonitored(ip netip.Addr) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.monitored[ip]
	return ok
}

// AddListener registers a listener.
func (s *InMemoryService) AddListener(listener hostservice.Listener) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.listeners, id)
	}
}

// AddHost adds a new host, or updates it if the id is already known.
func (s *InMemoryService) AddHost(host hostservice.Host) error {
	if host.ID == "" {
		return ErrEmptyHostID
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev, existed := s.hosts[host.ID]
	s.hosts[host.ID] = cloneHost(host)
	s.mu.Unlock()

	if existed {
		p := cloneHost(prev)
		s.dispatch(hostservice.Event{Type: eventTypeFor(prev, host), Subject: cloneHost(host), PrevSubject: &p})
		return nil
	}
	s.dispatch(hostservice.Event{Type: hostservice.HostAdded, Subject: cloneHost(host)})
	return nil
}

// UpdateHost replaces a known host. A changed VLAN is reported as a move.
func (s *InMemoryService) UpdateHost(host hostservice.Host) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev, existed := s.hosts[host.ID]
	if !existed {
		s.mu.Unlock()
		return ErrUnknownHost
	}
	s.hosts[host.ID] = cloneHost(host)
	s.mu.Unlock()

	p := cloneHost(prev)
	s.dispatch(hostservice.Event{Type: eventTypeFor(prev, host), Subject: cloneHost(host), PrevSubject: &p})
	return nil
}

// RemoveHost removes a host.
func (s *InMemoryService) RemoveHost(id hostservice.HostID) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev, existed := s.hosts[id]
	delete(s.hosts, id)
	s.mu.Unlock()

	if !existed {
		return ErrUnknownHost
	}
	s.dispatch(hostservice.Event{Type: hostservice.HostRemoved, Subject: prev})
	return nil
}

// dispatch must be called with notifyMu held.
func (s *InMemoryService) dispatch(ev hostservice.Event) {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		s.listeners[id](ev)
	}
}

func eventTypeFor(prev, next hostservice.Host) hostservice.EventType {
	if prev.VLAN != next.VLAN {
		return hostservice.HostMoved
	}
	return hostservice.HostUpdated
}

func cloneHost(h hostservice.Host) hostservice.Host {
	h.MAC = slices.Clone(h.MAC)
	h.IPAddresses = slices.Clone(h.IPAddresses)
	return h
}

var _ hostservice.Service = (*InMemoryService)(nil)
