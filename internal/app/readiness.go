// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/lifecycle"
)

// statusResponse is the body of GET /status: aggregate health, uptime,
// memory, and queue counts (spec.md §6).
type statusResponse struct {
	State        lifecycle.State `json:"state"`
	UptimeMS     int64           `json:"uptime_ms"`
	AllocBytes   uint64          `json:"alloc_bytes"`
	NumGoroutine int             `json:"num_goroutine"`
	JobsByStatus map[string]int64 `json:"jobs_by_status"`
}

// StatusHandler reports aggregate process health for operators: lifecycle
// state, uptime, current memory stats, and a job count broken down by
// status (spec.md §6 "aggregate health, uptime, memory, queue counts").
func StatusHandler(ctrl *lifecycle.Controller, jobs domain.JobRepository) http.HandlerFunc {
	statuses := []domain.JobStatus{
		domain.JobQueued, domain.JobValidating, domain.JobProcessing,
		domain.JobCompleted, domain.JobFailed, domain.JobCancelled,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		counts := make(map[string]int64, len(statuses))
		for _, st := range statuses {
			n, err := jobs.CountByStatus(r.Context(), st)
			if err == nil {
				counts[string(st)] = n
			}
		}

		resp := statusResponse{
			State:        ctrl.State(),
			UptimeMS:     ctrl.Uptime().Milliseconds(),
			AllocBytes:   mem.Alloc,
			NumGoroutine: runtime.NumGoroutine(),
			JobsByStatus: counts,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
