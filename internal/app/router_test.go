package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpserver "github.com/fairyhunter13/watermark-removal/internal/adapter/httpserver"
	"github.com/fairyhunter13/watermark-removal/internal/app"
	"github.com/fairyhunter13/watermark-removal/internal/config"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/lifecycle"
	"github.com/fairyhunter13/watermark-removal/internal/usecase"
)

type nopJobs struct{}

func (nopJobs) Create(domain.Context, domain.Job) (string, error) { return "", nil }
func (nopJobs) Get(domain.Context, string) (domain.Job, error)    { return domain.Job{}, domain.ErrNotFound }
func (nopJobs) UpdateProgress(domain.Context, string, func(*domain.Job) error) error {
	return domain.ErrNotFound
}
func (nopJobs) Delete(domain.Context, string) error { return nil }
func (nopJobs) ListStale(domain.Context, domain.JobStatus, time.Time, int) ([]domain.Job, error) {
	return nil, nil
}
func (nopJobs) Count(domain.Context) (int64, error)                             { return 0, nil }
func (nopJobs) CountByStatus(domain.Context, domain.JobStatus) (int64, error) { return 0, nil }

type nopLedger struct{}

func (nopLedger) Reserve(domain.Context, string, string, int64) error  { return nil }
func (nopLedger) Release(domain.Context, string, string) error         { return nil }
func (nopLedger) Finalize(domain.Context, string, string, int64) error { return nil }
func (nopLedger) Balance(domain.Context, string) (int64, error)        { return 0, nil }

type nopQueue struct{}

func (nopQueue) EnqueueJob(domain.Context, domain.JobTaskPayload) (string, error) { return "t", nil }

type nopBlob struct{}

func (nopBlob) Put(domain.Context, string, string, []byte, string) (string, error) { return "", nil }
func (nopBlob) Get(domain.Context, string, string) ([]byte, error)                 { return nil, nil }
func (nopBlob) URL(string, string) string                                          { return "" }

func testRouter() http.Handler {
	cfg := config.Config{MaxBatchSize: 20, RetentionDays: 7, RateLimitPerMin: 1000}
	jobs := nopJobs{}
	submit := usecase.NewSubmitService(jobs, nopLedger{}, nopQueue{}, cfg.MaxBatchSize)
	query := usecase.NewJobQueryService(jobs)
	cancel := usecase.NewCancelService(jobs, nopLedger{})
	callback := usecase.NewCallbackService(jobs, nopLedger{}, cfg.RetentionDays)
	srv := httpserver.NewServer(cfg, submit, query, cancel, callback, nopBlob{})

	ctrl := lifecycle.New("submitter", "run-1", "instance-1", domain.CapabilitiesDescriptor{SchemaVersion: 1, Service: "submitter"}, nil, "", nil)
	ctrl.Start(context.Background())

	return app.BuildRouter(cfg, srv, ctrl, jobs, nil)
}

func TestBuildRouter_Healthz_And_Readyz(t *testing.T) {
	h := testRouter()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/healthz: want 200, got %d", rec.Result().StatusCode)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec2.Result().StatusCode != http.StatusOK {
		t.Fatalf("/readyz: want 200, got %d", rec2.Result().StatusCode)
	}
}

func TestBuildRouter_CapabilitiesAndStatus(t *testing.T) {
	h := testRouter()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/capabilities", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/capabilities: want 200, got %d", rec.Result().StatusCode)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec2.Result().StatusCode != http.StatusOK {
		t.Fatalf("/status: want 200, got %d", rec2.Result().StatusCode)
	}
}

func TestBuildRouter_JobsRequireBearerAuth(t *testing.T) {
	h := testRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	h.ServeHTTP(rec, req)
	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated submit: want 401, got %d", rec.Result().StatusCode)
	}
}

func TestBuildRouter_PlatformsIsPublic(t *testing.T) {
	h := testRouter()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/platforms", nil))
	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("/api/v1/platforms: want 200, got %d", rec.Result().StatusCode)
	}
}

func TestBuildRouter_InternalCompleteRequiresSecret(t *testing.T) {
	cfg := config.Config{MaxBatchSize: 20, RetentionDays: 7, RateLimitPerMin: 1000, InternalSecret: "topsecret"}
	jobs := nopJobs{}
	submit := usecase.NewSubmitService(jobs, nopLedger{}, nopQueue{}, cfg.MaxBatchSize)
	query := usecase.NewJobQueryService(jobs)
	cancel := usecase.NewCancelService(jobs, nopLedger{})
	callback := usecase.NewCallbackService(jobs, nopLedger{}, cfg.RetentionDays)
	srv := httpserver.NewServer(cfg, submit, query, cancel, callback, nopBlob{})
	ctrl := lifecycle.New("submitter", "run-1", "instance-1", domain.CapabilitiesDescriptor{SchemaVersion: 1}, nil, "", nil)
	ctrl.Start(context.Background())
	h := app.BuildRouter(cfg, srv, ctrl, jobs, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/internal/jobs/job-1/complete", nil)
	h.ServeHTTP(rec, req)
	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing secret: want 401, got %d", rec.Result().StatusCode)
	}

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/internal/jobs/job-1/complete", nil)
	req2.Header.Set("X-Internal-Secret", "topsecret")
	h.ServeHTTP(rec2, req2)
	if rec2.Result().StatusCode == http.StatusUnauthorized {
		t.Fatalf("correct secret should not be rejected as unauthorized")
	}
}
