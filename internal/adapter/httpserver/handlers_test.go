package httpserver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/watermark-removal/internal/config"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/usecase"
)

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]domain.Job{}} }

func (f *fakeJobs) Create(_ domain.Context, j domain.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
	return j.ID, nil
}
func (f *fakeJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}
func (f *fakeJobs) UpdateProgress(_ domain.Context, id string, fn func(j *domain.Job) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&j); err != nil {
		return err
	}
	f.jobs[id] = j
	return nil
}
func (f *fakeJobs) Delete(_ domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}
func (f *fakeJobs) ListStale(_ domain.Context, status domain.JobStatus, olderThan time.Time, limit int) ([]domain.Job, error) {
	return nil, nil
}
func (f *fakeJobs) Count(_ domain.Context) (int64, error) { return int64(len(f.jobs)), nil }
func (f *fakeJobs) CountByStatus(_ domain.Context, status domain.JobStatus) (int64, error) {
	return 0, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	balance int64
	reserveErr error
	released []string
	finalized []string
}

func (l *fakeLedger) Reserve(_ domain.Context, userID, jobID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserveErr != nil {
		return l.reserveErr
	}
	l.balance -= amount
	return nil
}
func (l *fakeLedger) Release(_ domain.Context, userID, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, jobID)
	return nil
}
func (l *fakeLedger) Finalize(_ domain.Context, userID, jobID string, finalAmount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finalized = append(l.finalized, jobID)
	return nil
}
func (l *fakeLedger) Balance(_ domain.Context, userID string) (int64, error) { return l.balance, nil }

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []domain.JobTaskPayload
}

func (q *fakeQueue) EnqueueJob(_ domain.Context, payload domain.JobTaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, payload)
	return "task-id", nil
}

type fakeBlob struct{}

func (fakeBlob) Put(_ domain.Context, bucket, key string, body []byte, contentType string) (string, error) {
	return "https://blob.test/" + bucket + "/" + key, nil
}
func (fakeBlob) Get(_ domain.Context, bucket, key string) ([]byte, error) { return nil, nil }
func (fakeBlob) URL(bucket, key string) string                           { return "https://blob.test/" + bucket + "/" + key }

func newTestServer() (*Server, *fakeJobs, *fakeLedger, *fakeQueue) {
	jobs := newFakeJobs()
	ledger := &fakeLedger{balance: 10}
	queue := &fakeQueue{}
	cfg := config.Config{MaxBatchSize: 20, RetentionDays: 7}
	submit := usecase.NewSubmitService(jobs, ledger, queue, cfg.MaxBatchSize)
	query := usecase.NewJobQueryService(jobs)
	cancel := usecase.NewCancelService(jobs, ledger)
	callback := usecase.NewCallbackService(jobs, ledger, cfg.RetentionDays)
	s := NewServer(cfg, submit, query, cancel, callback, fakeBlob{})
	return s, jobs, ledger, queue
}

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(ContextWithUserID(r.Context(), userID))
}

func TestSubmitJobHandler_HappyPath(t *testing.T) {
	s, _, _, queue := newTestServer()
	body, _ := json.Marshal(submitJobRequest{VideoURL: "https://example.test/a.mp4", Platform: "sora", ProcessingMode: "crop"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()

	s.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	var resp submitJobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CreditsCharged != 1 || resp.CropPixels != 120 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one enqueued job")
	}
}

func TestSubmitJobHandler_SSRFBlockedURL(t *testing.T) {
	s, jobs, _, _ := newTestServer()
	body, _ := json.Marshal(submitJobRequest{VideoURL: "http://127.0.0.1/secret.mp4"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()

	s.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
	if len(jobs.jobs) != 0 {
		t.Fatalf("no job row should be created on SSRF block")
	}
}

func TestSubmitJobHandler_InsufficientCredits(t *testing.T) {
	s, jobs, ledger, _ := newTestServer()
	ledger.reserveErr = &domain.InsufficientCreditsError{Required: 1, Available: 0}
	body, _ := json.Marshal(submitJobRequest{VideoURL: "https://example.test/a.mp4"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()

	s.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402, body=%s", rec.Code, rec.Body.String())
	}
	if len(jobs.jobs) != 0 {
		t.Fatalf("no job row should be created on reservation failure")
	}

	var resp errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Error.Code != "INSUFFICIENT_CREDITS" {
		t.Fatalf("code = %q, want INSUFFICIENT_CREDITS", resp.Error.Code)
	}
	details, ok := resp.Error.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("expected structured details, got %#v", resp.Error.Details)
	}
	if details["credits_required"] != float64(1) || details["credits_available"] != float64(0) {
		t.Fatalf("unexpected details: %#v", details)
	}
}

func TestBatchJobHandler_RejectsOverCap(t *testing.T) {
	s, _, _, _ := newTestServer()
	items := make([]submitJobRequest, 21)
	for i := range items {
		items[i] = submitJobRequest{VideoURL: "https://example.test/a.mp4"}
	}
	body, _ := json.Marshal(batchJobRequest{Items: items})
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/batch", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()

	s.BatchJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for 21-item batch", rec.Code)
	}
}

func TestBatchJobHandler_PartialFailureDoesNotBlockOthers(t *testing.T) {
	s, _, _, queue := newTestServer()
	items := []submitJobRequest{
		{VideoURL: "https://example.test/a.mp4"},
		{VideoURL: "http://127.0.0.1/blocked.mp4"},
	}
	body, _ := json.Marshal(batchJobRequest{Items: items})
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/batch", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()

	s.BatchJobHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Items []batchJobItemResult `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Items[0].Job == nil || resp.Items[1].Error == nil {
		t.Fatalf("expected item 0 success and item 1 failure, got %+v", resp.Items)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("only the valid item should be enqueued, got %d", len(queue.enqueued))
	}
}

func TestJobHandler_ScopesToOwner(t *testing.T) {
	s, jobs, _, _ := newTestServer()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "owner", Status: domain.JobProcessing, CreatedAt: time.Now()}

	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{id}", s.JobHandler)

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil), "owner")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner: status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	req2 := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil), "intruder")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("non-owner: status = %d, want 404", rec2.Code)
	}
}

func TestCancelJobHandler_QueuedJobCancellable(t *testing.T) {
	s, jobs, ledger, _ := newTestServer()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "owner", Status: domain.JobQueued}

	r := chi.NewRouter()
	r.Delete("/api/v1/jobs/{id}", s.CancelJobHandler)

	req := withUser(httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/job-1", nil), "owner")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if jobs.jobs["job-1"].Status != domain.JobCancelled {
		t.Fatalf("job status = %v, want cancelled", jobs.jobs["job-1"].Status)
	}
	if len(ledger.released) != 1 {
		t.Fatalf("expected one release call")
	}
}

func TestInternalCompleteHandler_FinalizesOnCompleted(t *testing.T) {
	s, jobs, ledger, _ := newTestServer()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "owner", Status: domain.JobProcessing}

	r := chi.NewRouter()
	r.Post("/api/internal/jobs/{id}/complete", s.InternalCompleteHandler)

	body, _ := json.Marshal(callbackRequestBody{Status: "completed", OutputURL: "https://blob/out.mp4", ProcessingMode: "crop"})
	req := httptest.NewRequest(http.MethodPost, "/api/internal/jobs/job-1/complete", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if jobs.jobs["job-1"].Status != domain.JobCompleted {
		t.Fatalf("job not completed: %+v", jobs.jobs["job-1"])
	}
	if len(ledger.finalized) != 1 {
		t.Fatalf("expected one finalize call")
	}
}

func TestSubmitJobHandler_RejectsMalformedURL(t *testing.T) {
	s, jobs, _, _ := newTestServer()
	body, _ := json.Marshal(submitJobRequest{VideoURL: "not-a-url"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()

	s.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
	if len(jobs.jobs) != 0 {
		t.Fatalf("no job row should be created for a malformed URL")
	}
}

func TestSubmitJobHandler_RejectsInvalidProcessingMode(t *testing.T) {
	s, _, _, _ := newTestServer()
	body, _ := json.Marshal(submitJobRequest{VideoURL: "https://example.test/a.mp4", ProcessingMode: "bogus"})
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body)), "user-1")
	rec := httptest.NewRecorder()

	s.SubmitJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestUploadJobHandler_SniffsRealContentType(t *testing.T) {
	s, _, _, queue := newTestServer()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", "clip.mp4")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	// A tiny, well-formed ISO base media file box so mimetype.Detect reports
	// a video/* type regardless of the multipart part's declared header.
	mp4Magic := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}
	if _, err := part.Write(mp4Magic); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.WriteField("processing_mode", "crop"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", &buf), "user-1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	s.UploadJobHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one enqueued job, got %d", len(queue.enqueued))
	}
}

func TestUploadJobHandler_RejectsNonVideoContent(t *testing.T) {
	s, _, _, _ := newTestServer()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", "clip.mp4")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte("just some plain text, not a video")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", &buf), "user-1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	s.UploadJobHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestPlatformsHandler_ListsPresets(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/platforms", nil)
	rec := httptest.NewRecorder()

	s.PlatformsHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Platforms []map[string]any `json:"platforms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Platforms) == 0 {
		t.Fatalf("expected at least one platform preset")
	}
}
