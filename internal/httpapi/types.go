package httpapi

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RouteRequest is a route as declared by a client
type RouteRequest struct {
	Source     string `json:"source,omitempty"`
	Prefix     string `json:"prefix"`
	NextHop    string `json:"nextHop"`
	SourceNode string `json:"sourceNode,omitempty"`
}

// RoutesRequest carries routes to declare or withdraw
type RoutesRequest struct {
	Routes []RouteRequest `json:"routes"`
}

// RoutesAcceptedResponse acknowledges a write. Resolution happens afterwards.
type RoutesAcceptedResponse struct {
	Accepted int `json:"accepted"`
}

// TablesResponse lists route tables
type TablesResponse struct {
	Tables []string `json:"tables"`
}

// ResolvedRouteResponse is a route with its next-hop location
type ResolvedRouteResponse struct {
	Source      string `json:"source"`
	Prefix      string `json:"prefix"`
	NextHop     string `json:"nextHop"`
	SourceNode  string `json:"sourceNode"`
	Resolved    bool   `json:"resolved"`
	NextHopMAC  string `json:"nextHopMac,omitempty"`
	NextHopVLAN string `json:"nextHopVlan,omitempty"`
}

// RouteInfoResponse joins declared and resolved state of one prefix
type RouteInfoResponse struct {
	Prefix    string                  `json:"prefix"`
	Best      *ResolvedRouteResponse  `json:"best,omitempty"`
	AllRoutes []ResolvedRouteResponse `json:"allRoutes"`
}

// RouteInfoListResponse lists declared routes
type RouteInfoListResponse struct {
	Routes []RouteInfoResponse `json:"routes"`
}

// ResolvedRoutesResponse lists best routes
type ResolvedRoutesResponse struct {
	Routes []ResolvedRouteResponse `json:"routes"`
}

// PrefixResponse is the best route of a prefix and every resolved candidate
type PrefixResponse struct {
	Best         ResolvedRouteResponse   `json:"best"`
	Alternatives []ResolvedRouteResponse `json:"alternatives"`
}

// RouteEventMessage is a route event sent over the stream
type RouteEventMessage struct {
	Sequence     uint64                  `json:"sequence"`
	Type         string                  `json:"type"`
	Route        ResolvedRouteResponse   `json:"route"`
	Alternatives []ResolvedRouteResponse `json:"alternatives"`
	Timestamp    time.Time               `json:"timestamp"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy            bool           `json:"healthy"`
	NodeID             string         `json:"nodeId"`
	Started            bool           `json:"started"`
	Listeners          int            `json:"listeners"`
	PendingResolutions int            `json:"pendingResolutions"`
	Prefixes           map[string]int `json:"prefixes"`
	ReaperQueue        string         `json:"reaperQueue,omitempty"`
	Message            string         `json:"message,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// toRoute converts a wire route. An empty source means STATIC.
func (r RouteRequest) toRoute() (routing.Route, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(r.Prefix))
	if err != nil {
		return routing.Route{}, fmt.Errorf("invalid prefix %q: %w", r.Prefix, err)
	}
	nextHop, err := netip.ParseAddr(strings.TrimSpace(r.NextHop))
	if err != nil {
		return routing.Route{}, fmt.Errorf("invalid next hop %q: %w", r.NextHop, err)
	}
	source := routing.Source(strings.ToUpper(strings.TrimSpace(r.Source)))
	if source == "" {
		source = routing.SourceStatic
	}
	return routing.NewRoute(source, prefix, nextHop, r.SourceNode)
}

func toResolvedRouteResponse(r routing.ResolvedRoute) ResolvedRouteResponse {
	resp := ResolvedRouteResponse{
		Source:     string(r.Source),
		Prefix:     r.Prefix.String(),
		NextHop:    r.NextHop.String(),
		SourceNode: r.SourceNode,
		Resolved:   r.Resolved(),
	}
	if r.Resolved() {
		resp.NextHopMAC = r.NextHopMAC.String()
		resp.NextHopVLAN = r.NextHopVLAN.String()
	}
	return resp
}

func toResolvedRouteResponses(routes []routing.ResolvedRoute) []ResolvedRouteResponse {
	out := make([]ResolvedRouteResponse, 0, len(routes))
	for _, r := range routes {
		out = append(out, toResolvedRouteResponse(r))
	}
	return out
}

func toRouteInfoResponse(info routing.RouteInfo) RouteInfoResponse {
	resp := RouteInfoResponse{
		Prefix:    info.Prefix.String(),
		AllRoutes: toResolvedRouteResponses(info.AllRoutes),
	}
	if info.Best != nil {
		best := toResolvedRouteResponse(*info.Best)
		resp.Best = &best
	}
	return resp
}
