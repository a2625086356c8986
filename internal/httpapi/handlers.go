package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/routing"
)

// maxRoutesPerRequest bounds a single declare or withdraw request
const maxRoutesPerRequest = 10000

// HealthFunc reports the health of the node serving the API
type HealthFunc func() HealthResponse

// Handlers contains all HTTP request handlers
type Handlers struct {
	routes     routing.RouteAdminService
	hosts      HostRegistry
	membership Membership
	health     HealthFunc
	jwtAuth    *JWTAuth
	config     Config
	logger     *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(routes routing.RouteAdminService, health HealthFunc, jwtAuth *JWTAuth, config Config, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		routes:  routes,
		health:  health,
		jwtAuth: jwtAuth,
		config:  config,
		logger:  logger,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login. Login only issues read tokens;
// admin tokens are minted offline with the server secret.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" {
		writeError(w, "clientId is required", http.StatusBadRequest)
		return
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, false)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Route read endpoints

// ListTables handles GET /api/v1/routes/tables
func (h *Handlers) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.routes.RouteTables(r.Context())
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to list tables: %v", err), http.StatusInternalServerError)
		return
	}
	resp := TablesResponse{Tables: make([]string, 0, len(tables))}
	for _, t := range tables {
		resp.Tables = append(resp.Tables, string(t))
	}
	writeJSON(w, resp, http.StatusOK)
}

// ListRoutes handles GET /api/v1/routes?table=
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	tables, err := h.tablesFor(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := RouteInfoListResponse{Routes: []RouteInfoResponse{}}
	for _, table := range tables {
		infos, err := h.routes.Routes(r.Context(), table)
		if err != nil {
			writeError(w, fmt.Sprintf("Failed to list routes: %v", err), http.StatusInternalServerError)
			return
		}
		for _, info := range infos {
			resp.Routes = append(resp.Routes, toRouteInfoResponse(info))
		}
	}
	writeJSON(w, resp, http.StatusOK)
}

// ListResolvedRoutes handles GET /api/v1/routes/resolved?table=
func (h *Handlers) ListResolvedRoutes(w http.ResponseWriter, r *http.Request) {
	tables, err := h.tablesFor(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := ResolvedRoutesResponse{Routes: []ResolvedRouteResponse{}}
	for _, table := range tables {
		routes, err := h.routes.ResolvedRoutes(r.Context(), table)
		if err != nil {
			writeError(w, fmt.Sprintf("Failed to list resolved routes: %v", err), http.StatusInternalServerError)
			return
		}
		resp.Routes = append(resp.Routes, toResolvedRouteResponses(routes)...)
	}
	writeJSON(w, resp, http.StatusOK)
}

// GetPrefix handles GET /api/v1/routes/prefix?prefix=
func (h *Handlers) GetPrefix(w http.ResponseWriter, r *http.Request) {
	prefix, err := netip.ParsePrefix(r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, fmt.Sprintf("Invalid prefix: %v", err), http.StatusBadRequest)
		return
	}
	prefix = prefix.Masked()

	best, ok := h.routes.BestRoute(r.Context(), prefix)
	if !ok {
		writeError(w, fmt.Sprintf("No resolved route for %s", prefix), http.StatusNotFound)
		return
	}
	alts, err := h.routes.AllResolvedRoutes(r.Context(), prefix)
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to read alternatives: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, PrefixResponse{
		Best:         toResolvedRouteResponse(best),
		Alternatives: toResolvedRouteResponses(alts),
	}, http.StatusOK)
}

// Lookup handles GET /api/v1/routes/lookup?ip=
func (h *Handlers) Lookup(w http.ResponseWriter, r *http.Request) {
	ip, err := netip.ParseAddr(r.URL.Query().Get("ip"))
	if err != nil {
		writeError(w, fmt.Sprintf("Invalid ip: %v", err), http.StatusBadRequest)
		return
	}

	route, ok := h.routes.LongestPrefixMatch(r.Context(), ip)
	if !ok {
		writeError(w, fmt.Sprintf("No route to %s", ip), http.StatusNotFound)
		return
	}
	writeJSON(w, toResolvedRouteResponse(route), http.StatusOK)
}

// Route write endpoints

// UpdateRoutes handles POST /api/v1/routes
func (h *Handlers) UpdateRoutes(w http.ResponseWriter, r *http.Request) {
	h.writeRoutes(w, r, h.routes.Update)
}

// WithdrawRoutes handles DELETE /api/v1/routes
func (h *Handlers) WithdrawRoutes(w http.ResponseWriter, r *http.Request) {
	h.writeRoutes(w, r, h.routes.Withdraw)
}

func (h *Handlers) writeRoutes(w http.ResponseWriter, r *http.Request, apply func(context.Context, []routing.Route) error) {
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req RoutesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Routes) == 0 {
		writeError(w, "routes cannot be empty", http.StatusBadRequest)
		return
	}
	if len(req.Routes) > maxRoutesPerRequest {
		writeError(w, fmt.Sprintf("at most %d routes per request", maxRoutesPerRequest), http.StatusRequestEntityTooLarge)
		return
	}

	routes := make([]routing.Route, 0, len(req.Routes))
	for i, rr := range req.Routes {
		route, err := rr.toRoute()
		if err != nil {
			writeError(w, fmt.Sprintf("route %d: %v", i, err), http.StatusBadRequest)
			return
		}
		routes = append(routes, route)
	}

	if err := apply(r.Context(), routes); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, err.Error(), status)
		return
	}

	h.logger.Info("routes written",
		zap.String("method", r.Method),
		zap.String("client", GetClientID(r)),
		zap.Int("routes", len(routes)))
	writeJSON(w, RoutesAcceptedResponse{Accepted: len(routes)}, http.StatusAccepted)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, HealthResponse{Healthy: true}, http.StatusOK)
		return
	}
	resp := h.health()
	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, status)
}

// tablesFor returns the table named by the table query parameter, or every table.
func (h *Handlers) tablesFor(r *http.Request) ([]routing.TableID, error) {
	if t := r.URL.Query().Get("table"); t != "" {
		return []routing.TableID{routing.TableID(t)}, nil
	}
	tables, err := h.routes.RouteTables(r.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// validateJSON checks that the request carries a JSON body
func validateJSON(r *http.Request) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return errors.New("content type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return errors.New("content type must be application/json")
	}
	return nil
}
