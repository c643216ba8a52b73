package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/watermark-removal/internal/config"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/platform"
	"github.com/fairyhunter13/watermark-removal/internal/ssrf"
	"github.com/fairyhunter13/watermark-removal/internal/usecase"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// Server wires the submission API's HTTP handlers to the application's
// usecase services. It is deliberately thin: request validation and HTTP
// framing live here, the reserve/insert/enqueue transaction lives in
// usecase.
type Server struct {
	Cfg      config.Config
	Submit   usecase.SubmitService
	Query    usecase.JobQueryService
	Cancel   usecase.CancelService
	Callback usecase.CallbackService
	Blob     domain.BlobStore

	SSRFPolicy ssrf.Policy
}

// NewServer constructs a Server with the given dependencies.
func NewServer(cfg config.Config, submit usecase.SubmitService, query usecase.JobQueryService, cancel usecase.CancelService, callback usecase.CallbackService, blob domain.BlobStore) *Server {
	return &Server{
		Cfg:        cfg,
		Submit:     submit,
		Query:      query,
		Cancel:     cancel,
		Callback:   callback,
		Blob:       blob,
		SSRFPolicy: ssrf.PolicyFromStrictAllowlist(cfg.SSRFStrictAllowlist),
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// submitJobRequest is the wire shape for POST /api/v1/jobs and each item of
// POST /api/v1/jobs/batch.
type submitJobRequest struct {
	VideoURL       string            `json:"video_url" validate:"required,url"`
	Platform       string            `json:"platform" validate:"omitempty,alphanum"`
	ProcessingMode string            `json:"processing_mode" validate:"omitempty,oneof=crop inpaint auto"`
	CropPixels     *int              `json:"crop_pixels" validate:"omitempty,min=0"`
	CropPosition   string            `json:"crop_position" validate:"omitempty,oneof=top bottom left right"`
	WebhookURL     string            `json:"webhook_url" validate:"omitempty,url"`
	Metadata       map[string]string `json:"metadata" validate:"omitempty,max=20"`
}

type submitJobResponse struct {
	JobID               string `json:"job_id"`
	Status              string `json:"status"`
	Platform            string `json:"platform"`
	ProcessingMode      string `json:"processing_mode"`
	CropPixels          int    `json:"crop_pixels"`
	CropPosition        string `json:"crop_position"`
	CreditsCharged      int64  `json:"credits_charged"`
	CreatedAt           string `json:"created_at"`
	EstimatedCompletion string `json:"estimated_completion"`
}

func toSubmitJobResponse(out usecase.SubmitOutcome) submitJobResponse {
	return submitJobResponse{
		JobID:               out.JobID,
		Status:              string(out.Status),
		Platform:            out.Platform,
		ProcessingMode:      string(out.ProcessingMode),
		CropPixels:          out.CropPixels,
		CropPosition:        string(out.CropPosition),
		CreditsCharged:      out.CreditsCharged,
		CreatedAt:           out.CreatedAt.Format(timeLayout),
		EstimatedCompletion: out.EstimatedCompletion.Format(timeLayout),
	}
}

// validateSubmitRequest applies the SSRF and enum checks that must run
// before any credit/queue side effect (spec.md §4.1 "URL validation ...
// runs before anything else").
func (s *Server) validateSubmitRequest(req submitJobRequest) error {
	if err := getValidator().Struct(req); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return fmt.Errorf("%w: %s failed %s", domain.ErrValidation, strings.ToLower(ve[0].Field()), ve[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := ssrf.Validate(req.VideoURL, s.SSRFPolicy, nil); err != nil {
		return err
	}
	if v := ValidateProcessingMode(req.ProcessingMode); !v.Valid {
		return fmt.Errorf("%w: %s", domain.ErrValidation, v.Errors[0].Message)
	}
	if v := ValidateCropPosition(req.CropPosition); !v.Valid {
		return fmt.Errorf("%w: %s", domain.ErrValidation, v.Errors[0].Message)
	}
	if req.CropPixels != nil {
		if v := ValidateCropPixels(*req.CropPixels); !v.Valid {
			return fmt.Errorf("%w: %s", domain.ErrValidation, v.Errors[0].Message)
		}
	}
	return nil
}

func (s *Server) submitOne(ctx domain.Context, userID string, req submitJobRequest) (usecase.SubmitOutcome, error) {
	if err := s.validateSubmitRequest(req); err != nil {
		return usecase.SubmitOutcome{}, err
	}
	return s.Submit.Submit(ctx, usecase.SubmitRequest{
		UserID:         userID,
		InputURL:       req.VideoURL,
		Platform:       req.Platform,
		ProcessingMode: domain.ProcessingMode(req.ProcessingMode),
		CropPixels:     req.CropPixels,
		CropPosition:   domain.CropPosition(req.CropPosition),
		WebhookURL:     req.WebhookURL,
		Metadata:       req.Metadata,
	})
}

// SubmitJobHandler handles POST /api/v1/jobs: create a job by remote URL.
func (s *Server) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: malformed request body", domain.ErrValidation), nil)
		return
	}

	out, err := s.submitOne(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmitJobResponse(out))
}

type batchJobRequest struct {
	Items []submitJobRequest `json:"items"`
}

type batchJobItemResult struct {
	Job   *submitJobResponse `json:"job,omitempty"`
	Error *apiError          `json:"error,omitempty"`
}

// BatchJobHandler handles POST /api/v1/jobs/batch: create up to the
// configured batch cap (default 20) jobs in one request. Each item is
// submitted independently; one failing item does not roll back the others
// (spec.md §4.1 "Batch limited to a fixed cap").
func (s *Server) BatchJobHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req batchJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: malformed request body", domain.ErrValidation), nil)
		return
	}
	maxSize := s.Cfg.MaxBatchSize
	if maxSize <= 0 {
		maxSize = 20
	}
	if v := ValidateBatchSize(len(req.Items), maxSize); !v.Valid {
		writeError(w, r, fmt.Errorf("%w: %s", domain.ErrValidation, v.Errors[0].Message), nil)
		return
	}

	results := make([]batchJobItemResult, len(req.Items))
	for i, item := range req.Items {
		out, err := s.submitOne(r.Context(), userID, item)
		if err != nil {
			_, codeStr := classifyError(err)
			results[i] = batchJobItemResult{Error: &apiError{Code: codeStr, Message: err.Error(), Details: errorDetails(err)}}
			continue
		}
		resp := toSubmitJobResponse(out)
		results[i] = batchJobItemResult{Job: &resp}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": results})
}

const maxUploadBytes = 500 * 1024 * 1024 // 500 MB (spec.md §6)

// UploadJobHandler handles POST /api/v1/jobs/upload: create a job from
// multipart-uploaded bytes (video/* only, <= 500 MB) instead of a remote
// URL. The bytes are staged in the inputs bucket first so the rest of the
// submission pipeline is identical to the URL path.
func (s *Server) UploadJobHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrValidation, err), nil)
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: video file is required", domain.ErrValidation), nil)
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrValidation, err), nil)
		return
	}
	if int64(len(body)) > maxUploadBytes {
		writeError(w, r, fmt.Errorf("%w: upload exceeds 500 MB limit", domain.ErrValidation), nil)
		return
	}

	// Sniff the real content type from the bytes rather than trusting the
	// client-supplied header (spec.md §6 upload validation).
	ct := mimetype.Detect(body).String()
	if !strings.HasPrefix(ct, "video/") {
		writeError(w, r, fmt.Errorf("%w: content-type must be video/*, got %q", domain.ErrValidation, ct), nil)
		return
	}

	key := "upload/" + userID + "/" + header.Filename
	stagedURL, err := s.Blob.Put(r.Context(), "inputs", key, body, ct)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInfraTransient, err), nil)
		return
	}

	req := submitJobRequest{
		VideoURL:       stagedURL,
		Platform:       r.FormValue("platform"),
		ProcessingMode: r.FormValue("processing_mode"),
		CropPosition:   r.FormValue("crop_position"),
	}
	if px := r.FormValue("crop_pixels"); px != "" {
		if n, err := strconv.Atoi(px); err == nil {
			req.CropPixels = &n
		}
	}

	out, err := s.Submit.Submit(r.Context(), usecase.SubmitRequest{
		UserID:         userID,
		InputURL:       stagedURL,
		InputFilename:  header.Filename,
		Platform:       req.Platform,
		ProcessingMode: domain.ProcessingMode(req.ProcessingMode),
		CropPixels:     req.CropPixels,
		CropPosition:   domain.CropPosition(req.CropPosition),
	})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmitJobResponse(out))
}

type jobResponse struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	CurrentStep      string `json:"current_step,omitempty"`
	Platform         string `json:"platform"`
	ProcessingMode   string `json:"processing_mode"`
	OutputURL        string `json:"output_url,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	ProcessingTimeMS int64  `json:"processing_time_ms,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// JobHandler handles GET /api/v1/jobs/:id.
func (s *Server) JobHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if v := ValidateJobID(id); !v.Valid {
		writeError(w, r, fmt.Errorf("%w: %s", domain.ErrValidation, v.Errors[0].Message), nil)
		return
	}
	j, err := s.Query.Get(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{
		ID:               j.ID,
		Status:           string(j.Status),
		Progress:         j.DerivedProgress(),
		CurrentStep:      j.CurrentStep,
		Platform:         j.Platform,
		ProcessingMode:   string(j.ProcessingMode),
		OutputURL:        j.OutputURL,
		ErrorMessage:     j.ErrorMessage,
		ProcessingTimeMS: j.ProcessingTimeMS,
		CreatedAt:        j.CreatedAt.Format(timeLayout),
	})
}

// DownloadJobHandler handles GET /api/v1/jobs/:id/download.
func (s *Server) DownloadJobHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	outputURL, expiresAt, err := s.Query.Download(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	resp := map[string]any{"output_url": outputURL}
	if expiresAt != nil {
		resp["expires_at"] = *expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJobHandler handles DELETE /api/v1/jobs/:id.
func (s *Server) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.Cancel.Cancel(r.Context(), id, userID); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(domain.JobCancelled)})
}

type callbackRequestBody struct {
	Status           string `json:"status"`
	OutputURL        string `json:"output_url"`
	OutputFilename   string `json:"output_filename"`
	OutputSizeBytes  int64  `json:"output_size_bytes"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	ProcessingMode   string `json:"processing_mode"`
	Error            string `json:"error"`
}

// InternalCompleteHandler handles POST /api/internal/jobs/:id/complete, the
// trusted worker callback (spec.md §4.1, §6). Idempotent by job_id; applying
// it more than once for the same job is a no-op (enforced in
// usecase.CallbackService).
func (s *Server) InternalCompleteHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body callbackRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fmt.Errorf("%w: malformed callback body", domain.ErrValidation), nil)
		return
	}
	req := usecase.CallbackRequest{
		JobID:            id,
		Status:           domain.JobStatus(body.Status),
		OutputURL:        body.OutputURL,
		OutputFilename:   body.OutputFilename,
		OutputSizeBytes:  body.OutputSizeBytes,
		ProcessingTimeMS: body.ProcessingTimeMS,
		ProcessingMode:   domain.ProcessingMode(body.ProcessingMode),
		ErrorMessage:     body.Error,
	}
	if err := s.Callback.Complete(r.Context(), req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "accepted": true})
}

// PlatformsHandler handles GET /api/v1/platforms: enumerate the closed
// platform-preset table.
func (s *Server) PlatformsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": platform.List()})
}
