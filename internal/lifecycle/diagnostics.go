package lifecycle

import (
	"context"
	"net/http"
	"time"
)

// DiagnosticVerdict is the pass/warn/fail outcome of one self-test.
type DiagnosticVerdict string

// Diagnostic verdicts (spec.md §4.3 "Diagnostics").
const (
	VerdictPass DiagnosticVerdict = "pass"
	VerdictWarn DiagnosticVerdict = "warn"
	VerdictFail DiagnosticVerdict = "fail"
)

// DiagnosticCheck is one bounded self-test run by the worker's /diagnostics
// endpoint (queue ping, durable-store query, blob-list, media-toolchain
// version, env-var presence, scratch-dir writability).
type DiagnosticCheck struct {
	Name string
	Run  func(ctx context.Context) (DiagnosticVerdict, string)
}

// DiagnosticResult is one check's outcome.
type DiagnosticResult struct {
	Name      string            `json:"name"`
	Verdict   DiagnosticVerdict `json:"verdict"`
	Detail    string            `json:"detail,omitempty"`
	LatencyMS int64             `json:"latency_ms"`
}

// DiagnosticsReport aggregates every check's result with an overall verdict:
// fail if any check fails, warn if any warns and none fail, pass otherwise.
type DiagnosticsReport struct {
	Verdict DiagnosticVerdict  `json:"verdict"`
	Checks  []DiagnosticResult `json:"checks"`
}

// Diagnostics runs every registered check and aggregates the report
// (spec.md §4.3 "Diagnostics (optional, worker)").
type Diagnostics struct {
	checks []DiagnosticCheck
}

// NewDiagnostics builds a Diagnostics runner from the given checks.
func NewDiagnostics(checks []DiagnosticCheck) *Diagnostics {
	return &Diagnostics{checks: checks}
}

// Run executes every check sequentially and returns the aggregate report.
func (d *Diagnostics) Run(ctx context.Context) DiagnosticsReport {
	results := make([]DiagnosticResult, 0, len(d.checks))
	overall := VerdictPass
	for _, c := range d.checks {
		start := time.Now()
		verdict, detail := c.Run(ctx)
		results = append(results, DiagnosticResult{
			Name:      c.Name,
			Verdict:   verdict,
			Detail:    detail,
			LatencyMS: time.Since(start).Milliseconds(),
		})
		switch verdict {
		case VerdictFail:
			overall = VerdictFail
		case VerdictWarn:
			if overall != VerdictFail {
				overall = VerdictWarn
			}
		}
	}
	return DiagnosticsReport{Verdict: overall, Checks: results}
}

// Handler serves the aggregate report as JSON, 200 unless the overall
// verdict is fail (503).
func (d *Diagnostics) Handler(w http.ResponseWriter, r *http.Request) {
	report := d.Run(r.Context())
	status := http.StatusOK
	if report.Verdict == VerdictFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
