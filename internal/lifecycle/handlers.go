package lifecycle

import (
	"encoding/json"
	"net/http"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// LivenessResponse is the body of GET /healthz.
type LivenessResponse struct {
	State  State `json:"state"`
	Uptime int64 `json:"uptime_ms"`
}

// ReadinessResponse is the body of GET /readyz.
type ReadinessResponse struct {
	State        State              `json:"state"`
	Uptime       int64              `json:"uptime_ms"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// LivenessHandler always returns 200 while the process is alive (spec.md
// §4.3 "Liveness: always 200 while alive").
func (c *Controller) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		State:  c.State(),
		Uptime: c.Uptime().Milliseconds(),
	})
}

// ReadinessHandler returns 200 when the state is ready, 503 otherwise, with
// the body enumerating per-dependency checks and consecutive-failure counts
// (spec.md §4.3 "Readiness").
func (c *Controller) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	state := c.State()
	status := http.StatusOK
	if state != StateReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ReadinessResponse{
		State:        state,
		Uptime:       c.Uptime().Milliseconds(),
		Dependencies: c.Dependencies(),
	})
}

// CapabilitiesHandler returns the descriptor alongside current state and
// uptime (spec.md §4.3 "Capabilities").
func (c *Controller) CapabilitiesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		domain.CapabilitiesDescriptor
		State  State `json:"state"`
		Uptime int64 `json:"uptime_ms"`
	}{
		CapabilitiesDescriptor: c.Descriptor(),
		State:                  c.State(),
		Uptime:                 c.Uptime().Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
