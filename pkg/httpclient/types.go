package httpclient

import "time"

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the route API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests; streams are not bounded by it
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Route is a route as declared by a client. An empty Source means STATIC.
type Route struct {
	Source     string `json:"source,omitempty"`
	Prefix     string `json:"prefix"`
	NextHop    string `json:"nextHop"`
	SourceNode string `json:"sourceNode,omitempty"`
}

// RoutesRequest carries routes to declare or withdraw
type RoutesRequest struct {
	Routes []Route `json:"routes"`
}

// RoutesAcceptedResponse acknowledges a write
type RoutesAcceptedResponse struct {
	Accepted int `json:"accepted"`
}

// TablesResponse lists route tables
type TablesResponse struct {
	Tables []string `json:"tables"`
}

// ResolvedRoute is a route with its next-hop location
type ResolvedRoute struct {
	Source      string `json:"source"`
	Prefix      string `json:"prefix"`
	NextHop     string `json:"nextHop"`
	SourceNode  string `json:"sourceNode"`
	Resolved    bool   `json:"resolved"`
	NextHopMAC  string `json:"nextHopMac,omitempty"`
	NextHopVLAN string `json:"nextHopVlan,omitempty"`
}

// RouteInfo joins the declared and resolved state of one prefix
type RouteInfo struct {
	Prefix    string          `json:"prefix"`
	Best      *ResolvedRoute  `json:"best,omitempty"`
	AllRoutes []ResolvedRoute `json:"allRoutes"`
}

// RouteInfoListResponse lists declared routes
type RouteInfoListResponse struct {
	Routes []RouteInfo `json:"routes"`
}

// ResolvedRoutesResponse lists best routes
type ResolvedRoutesResponse struct {
	Routes []ResolvedRoute `json:"routes"`
}

// PrefixResponse is the best route of a prefix and every resolved candidate
type PrefixResponse struct {
	Best         ResolvedRoute   `json:"best"`
	Alternatives []ResolvedRoute `json:"alternatives"`
}

// RouteEventMessage represents a route event received over the stream
type RouteEventMessage struct {
	Sequence     uint64          `json:"sequence"`
	Type         string          `json:"type"`
	Route        ResolvedRoute   `json:"route"`
	Alternatives []ResolvedRoute `json:"alternatives"`
	Timestamp    time.Time       `json:"timestamp"`
}

// HealthResponse represents the health check response
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

// HostRequest declares a host. A nil VLAN means untagged.
type HostRequest struct {
	MAC  string   `json:"mac"`
	VLAN *int     `json:"vlan,omitempty"`
	IPs  []string `json:"ips"`
}

// HostInfo is a host as reported by the node
type HostInfo struct {
	ID   string   `json:"id"`
	MAC  string   `json:"mac"`
	VLAN string   `json:"vlan"`
	IPs  []string `json:"ips"`
}

// HostListResponse lists known hosts
type HostListResponse struct {
	Hosts []HostInfo `json:"hosts"`
}

// Node is a cluster member and its state
type Node struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
	State   string `json:"state"`
	Local   bool   `json:"local,omitempty"`
}

// NodeListResponse lists cluster members
type NodeListResponse struct {
	Nodes []Node `json:"nodes"`
}

// NodeStateRequest changes the state of a cluster member
type NodeStateRequest struct {
	NodeID string `json:"nodeId"`
	State  string `json:"state"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
