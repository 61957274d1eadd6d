// Package httpapi exposes the host's plugin state over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kilometers.ai/pluginhost/internal/application/services"
	"kilometers.ai/pluginhost/internal/core/domain"
	"kilometers.ai/pluginhost/internal/core/ports"
)

// TransformerView is the API representation of a registered transformer
type TransformerView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	PluginID      string `json:"pluginId,omitempty"`
	PluginVersion string `json:"pluginVersion,omitempty"`
}

// NewTransformerView converts a registry item
func NewTransformerView(item domain.TransformerRegistryItem) TransformerView {
	view := TransformerView{
		ID:          item.ID,
		Name:        item.Name,
		Description: item.Description,
	}
	if item.Origin != nil {
		view.PluginID = item.Origin.ID
		view.PluginVersion = item.Origin.Info.Version
	}
	return view
}

type errorResponse struct {
	Error    string                 `json:"error"`
	Snapshot *services.HostSnapshot `json:"snapshot,omitempty"`
}

// Handler serves the plugin API, metrics and health endpoints
type Handler struct {
	host   *services.HostService
	logger ports.DiagnosticSink
	mux    *http.ServeMux
}

// NewHandler creates the HTTP handler of the serve command
func NewHandler(host *services.HostService, gatherer prometheus.Gatherer, logger ports.DiagnosticSink) *Handler {
	if logger == nil {
		logger = ports.NopSink{}
	}
	h := &Handler{host: host, logger: logger, mux: http.NewServeMux()}

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	health.AddReadinessCheck("plugins-loaded", host.Ready)

	h.mux.HandleFunc("GET /api/plugins/preload", h.handlePreloads)
	h.mux.HandleFunc("GET /api/transformers", h.handleTransformers)
	h.mux.HandleFunc("GET /api/status", h.handleStatus)
	h.mux.HandleFunc("POST /api/reload", h.handleReload)
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	h.mux.HandleFunc("GET /live", health.LiveEndpoint)
	h.mux.HandleFunc("GET /ready", health.ReadyEndpoint)

	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handlePreloads(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.host.Snapshot().Preloads)
}

func (h *Handler) handleTransformers(w http.ResponseWriter, r *http.Request) {
	items := h.host.Registry().List()
	views := make([]TransformerView, 0, len(items))
	for _, item := range items {
		views = append(views, NewTransformerView(item))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.host.Snapshot())
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	snapshot, err := h.host.Reload(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Snapshot: &snapshot})
		return
	}

	h.logger.LogInfo("[API] Plugins reloaded", map[string]interface{}{
		"duration": time.Since(started).String(),
		"remote":   r.RemoteAddr,
	})
	h.writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.LogError(err, "[API] Failed to write response", nil)
	}
}
