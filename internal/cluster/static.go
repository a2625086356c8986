package cluster

import (
	"errors"
	"slices"
	"sync"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/cluster"
)

var (
	// ErrEmptyNodeID is returned when a node has no identity
	ErrEmptyNodeID = errors.New("node id cannot be empty")
	// ErrUnknownNode is returned for state changes on a node that is not a member
	ErrUnknownNode = errors.New("unknown node")
)

// StaticService implements cluster.Service over a configured member list.
// Node states are driven by SetState; every transition is reported to listeners.
type StaticService struct {
	mu     sync.RWMutex
	local  cluster.Node
	nodes  map[cluster.NodeID]cluster.Node
	states map[cluster.NodeID]cluster.NodeState

	notifyMu  sync.Mutex
	listeners map[int]cluster.Listener
	nextID    int
}

// NewStaticService creates a membership view containing local and peers.
// The local node starts Ready; peers start Active.
func NewStaticService(local cluster.Node, peers []cluster.Node) (*StaticService, error) {
	if local.ID == "" {
		return nil, ErrEmptyNodeID
	}
	s := &StaticService{
		local:     local,
		nodes:     map[cluster.NodeID]cluster.Node{local.ID: local},
		states:    map[cluster.NodeID]cluster.NodeState{local.ID: cluster.Ready},
		listeners: make(map[int]cluster.Listener),
	}
	for _, p := range peers {
		if p.ID == "" {
			return nil, ErrEmptyNodeID
		}
		if p.ID == local.ID {
			continue
		}
		s.nodes[p.ID] = p
		s.states[p.ID] = cluster.Active
	}
	return s, nil
}

// LocalNode returns the node this process runs as
func (s *StaticService) LocalNode() cluster.Node {
	return s.local
}

// Nodes returns every member ordered by id
func (s *StaticService) Nodes() []cluster.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]cluster.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b cluster.Node) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return nodes
}

// State returns a node's state; unknown nodes are Inactive
func (s *StaticService) State(id cluster.NodeID) cluster.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[id]
}

// AddListener registers a listener.
func (s *StaticService) AddListener(listener cluster.Listener) func() {
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

// AddNode adds a member in the Active state.
func (s *StaticService) AddNode(node cluster.Node) error {
	if node.ID == "" {
		return ErrEmptyNodeID
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	_, existed := s.nodes[node.ID]
	s.nodes[node.ID] = node
	if !existed {
		s.states[node.ID] = cluster.Active
	}
	s.mu.Unlock()

	if !existed {
		s.dispatchLocked(cluster.Event{Type: cluster.InstanceAdded, InstanceType: cluster.Controller, Subject: node})
	}
	return nil
}

// RemoveNode removes a member.
func (s *StaticService) RemoveNode(id cluster.NodeID) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	node, existed := s.nodes[id]
	delete(s.nodes, id)
	delete(s.states, id)
	s.mu.Unlock()

	if !existed {
		return ErrUnknownNode
	}
	s.dispatchLocked(cluster.Event{Type: cluster.InstanceRemoved, InstanceType: cluster.Controller, Subject: node})
	return nil
}

// SetState changes a member's state and reports the transition.
func (s *StaticService) SetState(id cluster.NodeID, state cluster.NodeState) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	node, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownNode
	}
	prev := s.states[id]
	s.states[id] = state
	s.mu.Unlock()

	if prev == state {
		return nil
	}
	var t cluster.EventType
	switch state {
	case cluster.Ready:
		t = cluster.InstanceReady
	case cluster.Active:
		t = cluster.InstanceActivated
	default:
		t = cluster.InstanceDeactivated
	}
	s.dispatchLocked(cluster.Event{Type: t, InstanceType: cluster.Controller, Subject: node})
	return nil
}

// Publish forwards an event from an external membership detector to listeners
// without changing any recorded state.
func (s *StaticService) Publish(ev cluster.Event) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.dispatchLocked(ev)
}

func (s *StaticService) dispatchLocked(ev cluster.Event) {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		s.listeners[id](ev)
	}
}

var _ cluster.Service = (*StaticService)(nil)
