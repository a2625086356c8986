package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	clusterreg "github.com/rmacdonaldsmith/routemesh-go/internal/cluster"
	hostreg "github.com/rmacdonaldsmith/routemesh-go/internal/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/cluster"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/hostservice"
	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// HostRegistry is the host administration surface
type HostRegistry interface {
	Hosts() []hostservice.Host
	AddHost(host hostservice.Host) error
	RemoveHost(id hostservice.HostID) error
}

// Membership is the cluster administration surface
type Membership interface {
	LocalNode() cluster.Node
	Nodes() []cluster.Node
	State(id cluster.NodeID) cluster.NodeState
	SetState(id cluster.NodeID, state cluster.NodeState) error
}

// Option configures optional API surfaces
type Option func(*Server)

// WithHosts serves /api/v1/hosts over hosts.
func WithHosts(hosts HostRegistry) Option {
	return func(s *Server) {
		s.handlers.hosts = hosts
	}
}

// WithMembership serves /api/v1/cluster/nodes over membership.
func WithMembership(membership Membership) Option {
	return func(s *Server) {
		s.handlers.membership = membership
	}
}

// Host endpoints

// ListHosts handles GET /api/v1/hosts
func (h *Handlers) ListHosts(w http.ResponseWriter, r *http.Request) {
	hosts := h.hosts.Hosts()
	resp := HostListResponse{Hosts: make([]HostResponse, 0, len(hosts))}
	for _, host := range hosts {
		resp.Hosts = append(resp.Hosts, toHostResponse(host))
	}
	writeJSON(w, resp, http.StatusOK)
}

// AddHost handles POST /api/v1/hosts. A host already known under the same
// MAC and VLAN is replaced.
func (h *Handlers) AddHost(w http.ResponseWriter, r *http.Request) {
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req HostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	host, err := req.toHost()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.hosts.AddHost(host); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("host added",
		zap.String("client", GetClientID(r)),
		zap.String("host", string(host.ID)))
	writeJSON(w, toHostResponse(host), http.StatusOK)
}

// RemoveHost handles DELETE /api/v1/hosts?id=
func (h *Handlers) RemoveHost(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}
	if err := h.hosts.RemoveHost(hostservice.HostID(id)); err != nil {
		if errors.Is(err, hostreg.ErrUnknownHost) {
			writeError(w, fmt.Sprintf("Unknown host %s", id), http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("host removed",
		zap.String("client", GetClientID(r)),
		zap.String("host", id))
	w.WriteHeader(http.StatusNoContent)
}

// Cluster endpoints

// ListNodes handles GET /api/v1/cluster/nodes
func (h *Handlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	local := h.membership.LocalNode().ID
	nodes := h.membership.Nodes()
	resp := NodeListResponse{Nodes: make([]NodeResponse, 0, len(nodes))}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, NodeResponse{
			ID:      string(n.ID),
			Address: n.Address,
			State:   h.membership.State(n.ID).String(),
			Local:   n.ID == local,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// SetNodeState handles POST /api/v1/cluster/nodes. Marking a peer INACTIVE
// reports it as departed, which reaps the routes it declared.
func (h *Handlers) SetNodeState(w http.ResponseWriter, r *http.Request) {
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req NodeStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	id := cluster.NodeID(strings.TrimSpace(req.NodeID))
	if id == "" {
		writeError(w, "nodeId is required", http.StatusBadRequest)
		return
	}
	state, err := cluster.ParseNodeState(req.State)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if id == h.membership.LocalNode().ID {
		writeError(w, "cannot change the state of the local node", http.StatusBadRequest)
		return
	}

	if err := h.membership.SetState(id, state); err != nil {
		if errors.Is(err, clusterreg.ErrUnknownNode) {
			writeError(w, fmt.Sprintf("Unknown node %s", id), http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("node state changed",
		zap.String("client", GetClientID(r)),
		zap.String("peer", string(id)),
		zap.Stringer("state", state))
	writeJSON(w, NodeResponse{ID: string(id), State: state.String()}, http.StatusOK)
}

// HostRequest declares a host seen at a MAC and VLAN. A missing VLAN means untagged.
type HostRequest struct {
	MAC  string   `json:"mac"`
	VLAN *int     `json:"vlan,omitempty"`
	IPs  []string `json:"ips"`
}

// HostResponse is a known host
type HostResponse struct {
	ID   string   `json:"id"`
	MAC  string   `json:"mac"`
	VLAN string   `json:"vlan"`
	IPs  []string `json:"ips"`
}

// HostListResponse lists known hosts
type HostListResponse struct {
	Hosts []HostResponse `json:"hosts"`
}

// NodeStateRequest changes the state of a cluster member
type NodeStateRequest struct {
	NodeID string `json:"nodeId"`
	State  string `json:"state"`
}

// NodeResponse is a cluster member and its state
type NodeResponse struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
	State   string `json:"state"`
	Local   bool   `json:"local,omitempty"`
}

// NodeListResponse lists cluster members
type NodeListResponse struct {
	Nodes []NodeResponse `json:"nodes"`
}

func (r HostRequest) toHost() (hostservice.Host, error) {
	mac, err := net.ParseMAC(strings.TrimSpace(r.MAC))
	if err != nil {
		return hostservice.Host{}, fmt.Errorf("invalid mac: %w", err)
	}
	vlan := routing.VlanNone
	if r.VLAN != nil {
		if *r.VLAN < 0 || *r.VLAN > 4095 {
			return hostservice.Host{}, fmt.Errorf("vlan %d out of range", *r.VLAN)
		}
		vlan = routing.VlanID(*r.VLAN)
	}
	if len(r.IPs) == 0 {
		return hostservice.Host{}, fmt.Errorf("ips cannot be empty")
	}

	host := hostservice.Host{
		ID:   hostservice.NewHostID(mac, vlan),
		MAC:  mac,
		VLAN: vlan,
	}
	for _, raw := range r.IPs {
		ip, err := netip.ParseAddr(strings.TrimSpace(raw))
		if err != nil {
			return hostservice.Host{}, fmt.Errorf("invalid ip: %w", err)
		}
		host.IPAddresses = append(host.IPAddresses, ip)
	}
	return host, nil
}

func toHostResponse(h hostservice.Host) HostResponse {
	resp := HostResponse{
		ID:   string(h.ID),
		MAC:  h.MAC.String(),
		VLAN: h.VLAN.String(),
		IPs:  make([]string, 0, len(h.IPAddresses)),
	}
	for _, ip := range h.IPAddresses {
		resp.IPs = append(resp.IPs, ip.String())
	}
	return resp
}
