package inspect

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/deduction/go/internal/session"
	"github.com/mcdev12/deduction/go/internal/session/mirror"
	"github.com/mcdev12/deduction/go/internal/session/state"
)

// Source provides the session views served by the handler
type Source interface {
	Snapshot() state.Snapshot
	Status() session.Status
}

// MirrorSource reports event mirror health
type MirrorSource interface {
	Stats() mirror.Stats
	Connected() bool
}

// StatsResponse is the body of GET /api/session/stats
type StatsResponse struct {
	Session session.Status `json:"session"`
	Mirror  *MirrorStatus  `json:"mirror,omitempty"`
}

// MirrorStatus is the mirror section of StatsResponse
type MirrorStatus struct {
	Connected bool         `json:"connected"`
	Stats     mirror.Stats `json:"stats"`
}

// Handler serves read-only views of the local session
type Handler struct {
	source Source
	mirror MirrorSource
}

// NewHandler creates a new inspection handler. mirrorSource may be nil.
func NewHandler(source Source, mirrorSource MirrorSource) *Handler {
	return &Handler{
		source: source,
		mirror: mirrorSource,
	}
}

// RegisterRoutes registers the inspection routes on mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/session/state", h.HandleGetState)
	mux.HandleFunc("/api/session/stats", h.HandleGetStats)
	mux.HandleFunc("/health", h.HandleHealth)
}

// HandleGetState handles GET /api/session/state
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.source.Snapshot()
	if !snap.Active() {
		http.Error(w, "No active session", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

// HandleGetStats handles GET /api/session/stats
func (h *Handler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatsResponse{Session: h.source.Status()}
	if h.mirror != nil {
		resp.Mirror = &MirrorStatus{
			Connected: h.mirror.Connected(),
			Stats:     h.mirror.Stats(),
		}
	}
	writeJSON(w, resp)
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
