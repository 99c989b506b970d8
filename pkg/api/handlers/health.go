package handlers

import (
	"net/http"

	"github.com/meowith/meowith/pkg/ledger"
)

// HealthHandler serves the node's liveness and readiness probes.
type HealthHandler struct {
	ledger *ledger.Ledger
}

// NewHealthHandler builds a health handler reporting on l's fragment
// ledger; l may be nil before the node has finished starting up, in which
// case readiness reports unhealthy.
func NewHealthHandler(l *ledger.Ledger) *HealthHandler {
	return &HealthHandler{ledger: l}
}

// Liveness handles GET /health: always 200 once the process can answer
// HTTP at all.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, map[string]string{"status": "alive"})
}

// Readiness handles GET /health/ready: 200 once the fragment ledger has
// opened, 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "ledger not open")
		return
	}
	WriteJSONOK(w, map[string]any{
		"used_bytes":      h.ledger.UsedSpace(),
		"available_bytes": h.ledger.AvailableSpace(),
		"max_bytes":       h.ledger.MaxBytes(),
	})
}
