// Package handler exposes the inspection API: a small JSON surface over
// the forwarder and engine tiers for poking at route tables, backend
// health, the connection trace table, and tier counters while a
// simulation runs. It is driver-side tooling, not a data plane.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gowtham/lbsim/internal/domain"
	lberrors "github.com/gowtham/lbsim/internal/errors"
	"github.com/gowtham/lbsim/internal/service"
	"github.com/gowtham/lbsim/pkg/logger"
)

// AdminHandler provides the administrative inspection endpoints
type AdminHandler struct {
	forwarder *service.Forwarder
	engines   []*service.Engine
	logger    *logger.Logger
	startTime time.Time
}

// NewAdminHandler creates an admin handler over one forwarder and the
// engines behind it
func NewAdminHandler(forwarder *service.Forwarder, engines []*service.Engine, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		forwarder: forwarder,
		engines:   engines,
		logger:    log.AdminLogger(),
		startTime: time.Now(),
	}
}

// RouteResponse represents one route table entry in API responses. The
// strategy shown is the effective one: the route's own when pinned,
// otherwise the engine default at the time of the call.
type RouteResponse struct {
	Engine   string   `json:"engine"`
	Prefix   string   `json:"prefix"`
	Strategy string   `json:"strategy"`
	Backends []string `json:"backends"`
}

// BackendResponse represents one backend's observable state
type BackendResponse struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Healthy     bool   `json:"healthy"`
	InFlight    int64  `json:"in_flight"`
	TotalServed int64  `json:"total_served"`
}

// BackendHealthRequest is the body for health toggles. Healthy is a
// pointer so an absent field is distinguishable from false.
type BackendHealthRequest struct {
	Healthy *bool `json:"healthy"`
}

// ConnectionResponse maps a traced connection to the downstream it was
// forwarded to
type ConnectionResponse struct {
	ConnectionID string `json:"connection_id"`
	Downstream   string `json:"downstream"`
}

// StatsResponse aggregates the per-tier counter snapshots
type StatsResponse struct {
	Uptime    string                 `json:"uptime"`
	Forwarder service.ForwarderStats `json:"forwarder"`
	Engines   []service.EngineStats  `json:"engines"`
}

// ErrorResponse is the error envelope for every non-2xx answer
type ErrorResponse struct {
	Error     string             `json:"error"`
	Code      lberrors.ErrorCode `json:"code"`
	Status    int                `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
}

// Router builds the admin router with method guards. Callers mount it
// directly as an http.Server handler.
func (h *AdminHandler) Router() *mux.Router {
	router := mux.NewRouter()

	admin := router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/healthz", h.HealthzHandler).Methods(http.MethodGet)
	admin.HandleFunc("/routes", h.ListRoutesHandler).Methods(http.MethodGet)
	admin.HandleFunc("/routes/backends", h.ListRouteBackendsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/backends/{name}/health", h.SetBackendHealthHandler).Methods(http.MethodPut)
	admin.HandleFunc("/connections/{id}", h.GetConnectionHandler).Methods(http.MethodGet)
	admin.HandleFunc("/stats", h.GetStatsHandler).Methods(http.MethodGet)

	return router
}

// HealthzHandler handles GET /admin/healthz
func (h *AdminHandler) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// ListRoutesHandler handles GET /admin/routes
func (h *AdminHandler) ListRoutesHandler(w http.ResponseWriter, r *http.Request) {
	response := make([]RouteResponse, 0)
	for _, engine := range h.engines {
		defaultStrategy := string(engine.DefaultStrategy())
		for _, route := range engine.Routes() {
			strategy := string(route.Strategy)
			if strategy == "" {
				strategy = defaultStrategy
			}

			names := make([]string, 0, len(route.Backends))
			for _, b := range route.Backends {
				if b != nil {
					names = append(names, b.Name)
				}
			}

			response = append(response, RouteResponse{
				Engine:   engine.Name(),
				Prefix:   route.Prefix,
				Strategy: strategy,
				Backends: names,
			})
		}
	}

	h.writeJSON(w, http.StatusOK, response)

	h.logger.WithFields(map[string]interface{}{
		"action": "list_routes",
		"count":  len(response),
	}).Debug("Listed routes")
}

// ListRouteBackendsHandler handles GET /admin/routes/backends?prefix=/api
func (h *AdminHandler) ListRouteBackendsHandler(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		h.writeError(w, lberrors.NewError(
			lberrors.ErrCodeInvalidArgument, "admin_api",
			"query parameter 'prefix' is required"))
		return
	}

	for _, engine := range h.engines {
		for _, route := range engine.Routes() {
			if route.Prefix != prefix {
				continue
			}

			response := make([]BackendResponse, 0, len(route.Backends))
			for _, b := range route.Backends {
				if b != nil {
					response = append(response, snapshotBackend(b))
				}
			}
			h.writeJSON(w, http.StatusOK, response)
			return
		}
	}

	h.writeError(w, lberrors.NewErrorf(
		lberrors.ErrCodeNotFound, "admin_api",
		"no route registered for prefix %q", prefix))
}

// SetBackendHealthHandler handles PUT /admin/backends/{name}/health
func (h *AdminHandler) SetBackendHealthHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req BackendHealthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, lberrors.NewError(
			lberrors.ErrCodeInvalidArgument, "admin_api",
			"invalid JSON body"))
		return
	}
	if req.Healthy == nil {
		h.writeError(w, lberrors.NewError(
			lberrors.ErrCodeInvalidArgument, "admin_api",
			"field 'healthy' is required"))
		return
	}

	backend := h.backendByName(name)
	if backend == nil {
		h.writeError(w, lberrors.NewErrorf(
			lberrors.ErrCodeNotFound, "admin_api",
			"no backend named %q", name))
		return
	}

	backend.SetHealthy(*req.Healthy)

	h.writeJSON(w, http.StatusOK, snapshotBackend(backend))

	h.logger.WithFields(map[string]interface{}{
		"action":  "set_backend_health",
		"backend": name,
		"healthy": *req.Healthy,
	}).Info("Backend health updated")
}

// GetConnectionHandler handles GET /admin/connections/{id}
func (h *AdminHandler) GetConnectionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	downstream := h.forwarder.DownstreamForConnection(id)
	if downstream == nil {
		h.writeError(w, lberrors.NewErrorf(
			lberrors.ErrCodeNotFound, "admin_api",
			"connection %q was never forwarded", id))
		return
	}

	h.writeJSON(w, http.StatusOK, ConnectionResponse{
		ConnectionID: id,
		Downstream:   downstream.Name(),
	})
}

// GetStatsHandler handles GET /admin/stats
func (h *AdminHandler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	engineStats := make([]service.EngineStats, 0, len(h.engines))
	for _, engine := range h.engines {
		engineStats = append(engineStats, engine.Stats())
	}

	h.writeJSON(w, http.StatusOK, StatsResponse{
		Uptime:    time.Since(h.startTime).String(),
		Forwarder: h.forwarder.Stats(),
		Engines:   engineStats,
	})
}

// backendByName finds a backend across every engine's route table, or
// nil when no route references the name. Pools share backend instances,
// so the first match is the instance.
func (h *AdminHandler) backendByName(name string) *domain.Backend {
	for _, engine := range h.engines {
		for _, route := range engine.Routes() {
			for _, b := range route.Backends {
				if b != nil && b.Name == name {
					return b
				}
			}
		}
	}
	return nil
}

func snapshotBackend(b *domain.Backend) BackendResponse {
	return BackendResponse{
		Name:        b.Name,
		Address:     b.Address(),
		Healthy:     b.IsHealthy(),
		InFlight:    b.CurrentConnections(),
		TotalServed: b.TotalServed(),
	}
}

// writeJSON writes a JSON response with the given status
func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the standardized error envelope, mapping the error
// code to an HTTP status
func (h *AdminHandler) writeError(w http.ResponseWriter, err *lberrors.FabricError) {
	status := err.HTTPStatusCode()

	h.writeJSON(w, status, ErrorResponse{
		Error:     err.Message,
		Code:      err.Code,
		Status:    status,
		Timestamp: time.Now(),
	})

	h.logger.WithFields(map[string]interface{}{
		"error":  err.Message,
		"code":   string(err.Code),
		"status": status,
	}).Warn("Admin API error response")
}
