package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLivenessHandler_AlwaysReturns200(t *testing.T) {
	c := New("worker", "run-1", "instance-1", testDescriptor("worker"), nil, "", testLogger())
	c.Crash("boom")

	rec := httptest.NewRecorder()
	c.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body LivenessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.State != StateCrashed {
		t.Fatalf("State = %q, want %q", body.State, StateCrashed)
	}
}

func TestReadinessHandler_200WhenReady(t *testing.T) {
	c := New("worker", "run-1", "instance-1", testDescriptor("worker"), nil, "", testLogger())
	c.Start(context.Background())
	defer c.Stop()

	rec := httptest.NewRecorder()
	c.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadinessHandler_503WhenNotReady(t *testing.T) {
	checks := []DependencyCheck{{Name: "postgres", Required: true, Probe: func(ctx context.Context) error {
		return context.DeadlineExceeded
	}}}
	c := New("worker", "run-1", "instance-1", testDescriptor("worker"), checks, "", testLogger())
	c.Start(context.Background())
	defer c.Stop()

	rec := httptest.NewRecorder()
	c.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Dependencies) != 1 {
		t.Fatalf("len(Dependencies) = %d, want 1", len(body.Dependencies))
	}
}

func TestCapabilitiesHandler_ReturnsDescriptorAndState(t *testing.T) {
	c := New("worker", "run-1", "instance-1", testDescriptor("worker"), nil, "", testLogger())
	c.Start(context.Background())
	defer c.Stop()

	rec := httptest.NewRecorder()
	c.CapabilitiesHandler(rec, httptest.NewRequest(http.MethodGet, "/capabilities", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["service"] != "worker" {
		t.Fatalf("service = %v, want %q", body["service"], "worker")
	}
	if body["state"] != string(StateReady) {
		t.Fatalf("state = %v, want %q", body["state"], StateReady)
	}
}
