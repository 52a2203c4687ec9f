// Package api exposes the daemon's HTTP surface: container lifecycle
// endpoints, daemon health, host diagnostics, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sandboxkit/warden/internal/config"
	"github.com/sandboxkit/warden/internal/fleet"
	"github.com/sandboxkit/warden/internal/runtime"
	"github.com/sandboxkit/warden/internal/supervisor"
)

// MetricsHandler serves a rendered metrics page and can drop the series of
// a removed container.
type MetricsHandler interface {
	http.Handler
	Forget(containerID string)
}

// Handler routes daemon API requests.
type Handler struct {
	manager   *fleet.Manager
	metrics   MetricsHandler
	container config.ContainerConfig
	log       zerolog.Logger
	started   time.Time
}

// NewHandler creates an API handler over the given fleet manager.
func NewHandler(m *fleet.Manager, metrics MetricsHandler, container config.ContainerConfig, log zerolog.Logger) *Handler {
	return &Handler{
		manager:   m,
		metrics:   metrics,
		container: container,
		log:       log,
		started:   time.Now(),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.FrontDoor).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/system", h.System).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods("GET")
	}

	r.HandleFunc("/v1/containers", h.ListContainers).Methods("GET")
	r.HandleFunc("/v1/containers", h.CreateContainer).Methods("POST")
	r.HandleFunc("/v1/containers/{id}", h.GetContainer).Methods("GET")
	r.HandleFunc("/v1/containers/{id}/start", h.StartContainer).Methods("POST")
	r.HandleFunc("/v1/containers/{id}/destroy", h.DestroyContainer).Methods("POST")

	r.HandleFunc("/v1/fleet", h.GetFleet).Methods("GET")
	r.HandleFunc("/v1/fleet", h.SetFleet).Methods("PUT")
}

// FrontDoor serves the landing page. Routing requests into the supervised
// workload lives behind a separate proxy; this page just points at the API.
func (h *Handler) FrontDoor(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>warden</title></head>
<body>
<h1>warden</h1>
<p>Container supervisor daemon. See <code>/v1/containers</code>, <code>/health</code>, <code>/system</code> and <code>/metrics</code>.</p>
</body>
</html>
`))
}

// Health reports daemon liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// SystemInfo is the host diagnostics snapshot returned by /system.
type SystemInfo struct {
	Hostname       string  `json:"hostname"`
	Platform       string  `json:"platform"`
	UptimeSeconds  uint64  `json:"uptime_seconds"`
	CPUCount       int     `json:"cpu_count"`
	CPUPercent     float64 `json:"cpu_percent"`
	Load1          float64 `json:"load_1"`
	Load5          float64 `json:"load_5"`
	Load15         float64 `json:"load_15"`
	MemTotalBytes  uint64  `json:"mem_total_bytes"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	DiskUsedBytes  uint64  `json:"disk_used_bytes"`
}

// System returns a host resource snapshot. Individual collectors failing is
// not fatal; their fields stay zero.
func (h *Handler) System(w http.ResponseWriter, r *http.Request) {
	var info SystemInfo

	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.Platform = hi.Platform
		info.UptimeSeconds = hi.Uptime
	}
	if n, err := cpu.Counts(true); err == nil {
		info.CPUCount = n
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if avg, err := load.Avg(); err == nil {
		info.Load1 = avg.Load1
		info.Load5 = avg.Load5
		info.Load15 = avg.Load15
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemTotalBytes = vm.Total
		info.MemUsedBytes = vm.Used
		info.MemUsedPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		info.DiskTotalBytes = du.Total
		info.DiskUsedBytes = du.Used
	}

	writeJSON(w, http.StatusOK, info)
}

// ContainerInfo is the per-container view returned by the list and get
// endpoints.
type ContainerInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// ListContainers returns every known container and its persisted state.
func (h *Handler) ListContainers(w http.ResponseWriter, r *http.Request) {
	health, err := h.manager.AggregateHealth(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("aggregating container health")
		http.Error(w, "failed to read container state", http.StatusInternalServerError)
		return
	}

	containers := make([]ContainerInfo, 0, len(health))
	for _, id := range h.manager.List() {
		state, ok := health[id]
		if !ok {
			continue
		}
		containers = append(containers, ContainerInfo{ID: id, State: string(state)})
	}
	writeJSON(w, http.StatusOK, containers)
}

// CreateRequest is the body for container creation and start.
type CreateRequest struct {
	ID       string            `json:"id,omitempty"`
	Image    string            `json:"image,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	HostPort int               `json:"host_port,omitempty"`
}

// CreateContainer registers a new container identity and starts it. A
// missing id gets a generated one; a missing image falls back to the
// configured default.
func (h *Handler) CreateContainer(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	if err := h.start(r.Context(), req); err != nil {
		h.log.Error().Err(err).Str("container", req.ID).Msg("starting container")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// GetContainer returns one container's persisted state.
func (h *Handler) GetContainer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sup, ok := h.manager.Get(id)
	if !ok {
		http.Error(w, "container not found", http.StatusNotFound)
		return
	}

	state, err := sup.CurrentState(r.Context())
	if err != nil {
		if errors.Is(err, supervisor.ErrDestroyed) {
			http.Error(w, "container not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("container", id).Msg("reading container state")
		http.Error(w, "failed to read container state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ContainerInfo{ID: id, State: string(state)})
}

// StartContainer starts (or restarts) the container for an existing or new
// identity.
func (h *Handler) StartContainer(w http.ResponseWriter, r *http.Request) {
	req := CreateRequest{ID: mux.Vars(r)["id"]}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		req.ID = mux.Vars(r)["id"]
	}

	if err := h.start(r.Context(), req); err != nil {
		if errors.Is(err, supervisor.ErrDestroyed) {
			http.Error(w, "container destroyed", http.StatusConflict)
			return
		}
		h.log.Error().Err(err).Str("container", req.ID).Msg("starting container")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": req.ID, "status": "started"})
}

func (h *Handler) start(ctx context.Context, req CreateRequest) error {
	sup, err := h.manager.Ensure(req.ID)
	if err != nil {
		return err
	}

	image := req.Image
	if image == "" {
		image = h.container.Image
	}
	return sup.Start(ctx, runtime.StartOptions{
		Image:         image,
		Env:           req.Env,
		ContainerPort: h.container.ProbePort,
		HostPort:      req.HostPort,
		Network:       h.container.Network,
	})
}

// DestroyContainer tears the container down and drops its metrics series.
func (h *Handler) DestroyContainer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := h.manager.Destroy(r.Context(), id)
	if errors.Is(err, fleet.ErrNotFound) {
		http.Error(w, "container not found", http.StatusNotFound)
		return
	}
	if h.metrics != nil {
		h.metrics.Forget(id)
	}
	// Destroy reports termination through its sentinel even on success;
	// anything joined onto it is a cleanup failure worth surfacing.
	if err != nil && !errors.Is(err, supervisor.ErrDestroyed) {
		h.log.Error().Err(err).Str("container", id).Msg("destroying container")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cleanupErr := cleanupFailure(err); cleanupErr != "" {
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "destroyed", "warning": cleanupErr})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "destroyed"})
}

// FleetStatus is the aggregate view returned by /v1/fleet.
type FleetStatus struct {
	Desired    int             `json:"desired"`
	Containers []ContainerInfo `json:"containers"`
}

// GetFleet returns the desired replica count and per-container health.
func (h *Handler) GetFleet(w http.ResponseWriter, r *http.Request) {
	health, err := h.manager.AggregateHealth(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("aggregating container health")
		http.Error(w, "failed to read container state", http.StatusInternalServerError)
		return
	}

	status := FleetStatus{Desired: h.manager.Desired()}
	for _, id := range h.manager.List() {
		if state, ok := health[id]; ok {
			status.Containers = append(status.Containers, ContainerInfo{ID: id, State: string(state)})
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// SetFleet records the desired replica count.
func (h *Handler) SetFleet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Desired int `json:"desired"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Desired < 0 {
		http.Error(w, "desired must be non-negative", http.StatusBadRequest)
		return
	}
	h.manager.SetDesired(req.Desired)
	writeJSON(w, http.StatusOK, map[string]int{"desired": req.Desired})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// cleanupFailure extracts a cleanup error message joined onto the destroy
// sentinel, if any.
func cleanupFailure(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, supervisor.ErrDestroyed) && err.Error() != supervisor.ErrDestroyed.Error() {
		return err.Error()
	}
	return ""
}
