// Package httpclient is a Go client for the routemesh HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// APIError is a non-2xx answer of the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 answer
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides HTTP client for the route API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new route API client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate logs in and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"clientId": c.config.ClientID,
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", nil, authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// Tables returns every route table
func (c *Client) Tables(ctx context.Context) ([]string, error) {
	var resp TablesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/routes/tables", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return resp.Tables, nil
}

// Routes returns the declared routes of table, or of every table when table is empty
func (c *Client) Routes(ctx context.Context, table string) ([]RouteInfo, error) {
	var resp RouteInfoListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/routes", tableQuery(table), nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	return resp.Routes, nil
}

// ResolvedRoutes returns the best route of every prefix of table, or of every table
func (c *Client) ResolvedRoutes(ctx context.Context, table string) ([]ResolvedRoute, error) {
	var resp ResolvedRoutesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/routes/resolved", tableQuery(table), nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list resolved routes: %w", err)
	}
	return resp.Routes, nil
}

// Prefix returns the best route of prefix and its resolved alternatives
func (c *Client) Prefix(ctx context.Context, prefix string) (*PrefixResponse, error) {
	var resp PrefixResponse
	query := url.Values{"prefix": {prefix}}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/routes/prefix", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get prefix %s: %w", prefix, err)
	}
	return &resp, nil
}

// Lookup returns the best route of the longest prefix containing ip
func (c *Client) Lookup(ctx context.Context, ip string) (*ResolvedRoute, error) {
	var resp ResolvedRoute
	query := url.Values{"ip": {ip}}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/routes/lookup", query, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", ip, err)
	}
	return &resp, nil
}

// UpdateRoutes declares or replaces routes (admin only)
func (c *Client) UpdateRoutes(ctx context.Context, routes []Route) (int, error) {
	var resp RoutesAcceptedResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/routes", nil, RoutesRequest{Routes: routes}, &resp, true); err != nil {
		return 0, fmt.Errorf("failed to update routes: %w", err)
	}
	return resp.Accepted, nil
}

// WithdrawRoutes withdraws routes (admin only)
func (c *Client) WithdrawRoutes(ctx context.Context, routes []Route) (int, error) {
	var resp RoutesAcceptedResponse
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/routes", nil, RoutesRequest{Routes: routes}, &resp, true); err != nil {
		return 0, fmt.Errorf("failed to withdraw routes: %w", err)
	}
	return resp.Accepted, nil
}

// Hosts returns every host known to the node
func (c *Client) Hosts(ctx context.Context) ([]HostInfo, error) {
	var resp HostListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/hosts", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	return resp.Hosts, nil
}

// AddHost adds or replaces a host (admin only)
func (c *Client) AddHost(ctx context.Context, host HostRequest) (*HostInfo, error) {
	var resp HostInfo
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/hosts", nil, host, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to add host: %w", err)
	}
	return &resp, nil
}

// RemoveHost removes a host by id (admin only)
func (c *Client) RemoveHost(ctx context.Context, id string) error {
	query := url.Values{"id": {id}}
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/hosts", query, nil, nil, true); err != nil {
		return fmt.Errorf("failed to remove host %s: %w", id, err)
	}
	return nil
}

// Nodes returns every cluster member and its state
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	var resp NodeListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/cluster/nodes", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return resp.Nodes, nil
}

// SetNodeState changes a peer's state (admin only). Marking a peer INACTIVE
// reaps the routes it declared.
func (c *Client) SetNodeState(ctx context.Context, nodeID, state string) error {
	req := NodeStateRequest{NodeID: nodeID, State: state}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/cluster/nodes", nil, req, nil, true); err != nil {
		return fmt.Errorf("failed to set state of %s: %w", nodeID, err)
	}
	return nil
}

// GetHealth returns the health status of the server. An unhealthy node
// answers 503 with a body, which is returned together with the error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, nil, &resp, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && resp.NodeID != "" {
			return &resp, fmt.Errorf("node unhealthy: %w", err)
		}
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

func tableQuery(table string) url.Values {
	if table == "" {
		return nil
	}
	return url.Values{"table": {table}}
}

// doRequest performs an HTTP request with query parameters and optional authentication.
// On a 503 the body is still decoded into respBody.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, reqBody, respBody interface{}, requireAuth bool) error {
	if requireAuth && c.token == "" {
		return ErrNotAuthenticated
	}

	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusServiceUnavailable && respBody != nil {
			_ = json.Unmarshal(bodyBytes, respBody)
		}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Message == "" {
			return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(bodyBytes))}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
