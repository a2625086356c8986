// Package cluster provides the contract of cluster membership.
//
// Membership detection itself is out of scope for the route resolution core;
// it only needs the local identity, per-node state and membership events to
// decide when a departed node's routes must be reaped.
package cluster

import (
	"fmt"
	"strings"
)

// NodeID uniquely identifies a cluster node
type NodeID string

// Node represents a member of the control-plane cluster
type Node struct {
	ID      NodeID
	Address string
}

// NodeState represents the lifecycle state of a node
type NodeState int

const (
	// Inactive nodes are known but unreachable
	Inactive NodeState = iota

	// Active nodes are reachable but not yet serving
	Active

	// Ready nodes are fully serving
	Ready
)

func (s NodeState) String() string {
	switch s {
	case Inactive:
		return "INACTIVE"
	case Active:
		return "ACTIVE"
	case Ready:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// ParseNodeState parses the String form of a state, ignoring case.
func ParseNodeState(s string) (NodeState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INACTIVE":
		return Inactive, nil
	case "ACTIVE":
		return Active, nil
	case "READY":
		return Ready, nil
	default:
		return Inactive, fmt.Errorf("unknown node state %q", s)
	}
}

// IsReady reports whether the node is fully serving
func (s NodeState) IsReady() bool {
	return s == Ready
}

// IsActive reports whether the node is reachable
func (s NodeState) IsActive() bool {
	return s == Active || s == Ready
}

// EventType represents a membership transition
type EventType int

const (
	InstanceAdded EventType = iota
	InstanceRemoved
	InstanceActivated
	InstanceReady
	InstanceDeactivated
)

func (t EventType) String() string {
	switch t {
	case InstanceAdded:
		return "INSTANCE_ADDED"
	case InstanceRemoved:
		return "INSTANCE_REMOVED"
	case InstanceActivated:
		return "INSTANCE_ACTIVATED"
	case InstanceReady:
		return "INSTANCE_READY"
	case InstanceDeactivated:
		return "INSTANCE_DEACTIVATED"
	default:
		return "UNKNOWN"
	}
}

// InstanceType distinguishes controller members from storage-layer members
type InstanceType int

const (
	// Controller instances run the control-plane applications
	Controller InstanceType = iota

	// Storage instances only host the replicated storage layer
	Storage
)

func (t InstanceType) String() string {
	if t == Storage {
		return "STORAGE"
	}
	return "CONTROLLER"
}

// Event describes a membership transition
type Event struct {
	Type         EventType
	InstanceType InstanceType
	Subject      Node
}

// Listener receives membership events
type Listener func(Event)

// Service is the cluster membership service.
type Service interface {
	// LocalNode returns the node this process runs as.
	LocalNode() Node

	// Nodes returns every known node.
	Nodes() []Node

	// State returns the current state of a node; unknown nodes are Inactive.
	State(id NodeID) NodeState

	// AddListener registers a listener and returns a function removing it.
	AddListener(listener Listener) (remove func())
}
