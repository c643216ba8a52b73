// Package usecase contains application business logic services: the
// reserve/insert/enqueue submission transaction, job query, cancellation,
// and the worker-callback finalize/release path.
package usecase

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/platform"
	obsctx "github.com/fairyhunter13/watermark-removal/internal/observability"
	"go.opentelemetry.io/otel"
)

// SubmitService implements the reserve -> durable-insert -> enqueue
// transaction (spec.md §4.1) with best-effort compensation on partial
// failure.
type SubmitService struct {
	Jobs   domain.JobRepository
	Ledger domain.LedgerRepository
	Queue  domain.Queue

	MaxBatchSize int
}

// NewSubmitService constructs a SubmitService with its dependencies.
func NewSubmitService(jobs domain.JobRepository, ledger domain.LedgerRepository, queue domain.Queue, maxBatchSize int) SubmitService {
	return SubmitService{Jobs: jobs, Ledger: ledger, Queue: queue, MaxBatchSize: maxBatchSize}
}

// SubmitRequest is the caller-supplied, already-validated shape for one job.
type SubmitRequest struct {
	UserID         string
	InputURL       string
	InputFilename  string
	Platform       string
	ProcessingMode domain.ProcessingMode
	CropPixels     *int
	CropPosition   domain.CropPosition
	WebhookURL     string
	Metadata       map[string]string
}

// SubmitOutcome is returned to the caller on a successful submission.
type SubmitOutcome struct {
	JobID               string
	Status              domain.JobStatus
	Platform            string
	ProcessingMode      domain.ProcessingMode
	CropPixels          int
	CropPosition        domain.CropPosition
	CreditsCharged      int64
	CreatedAt           time.Time
	EstimatedCompletion time.Time
}

// Submit resolves platform defaults, reserves credits, writes the job row,
// and enqueues the work item, per spec.md §4.1.
func (s SubmitService) Submit(ctx domain.Context, req SubmitRequest) (SubmitOutcome, error) {
	tr := otel.Tracer("usecase.submit")
	ctx, span := tr.Start(ctx, "SubmitService.Submit")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	if req.ProcessingMode == "" {
		req.ProcessingMode = domain.ModeAuto
	}
	preset := platform.Resolve(req.Platform)
	resolvedPlatform := preset.Name
	cropPosition := preset.CropPosition
	if req.CropPosition != "" {
		cropPosition = req.CropPosition
	}
	cropPixels := preset.CropPixels
	if req.CropPixels != nil {
		cropPixels = *req.CropPixels
	}

	cost := domain.CreditCost(req.ProcessingMode)
	jobID := newJobID()

	if err := s.Ledger.Reserve(ctx, req.UserID, jobID, cost); err != nil {
		lg.Warn("submit reserve failed", slog.String("user_id", req.UserID), slog.Int64("cost", cost), slog.Any("error", err))
		return SubmitOutcome{}, err
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:             jobID,
		UserID:         req.UserID,
		Platform:       resolvedPlatform,
		ProcessingMode: req.ProcessingMode,
		CropPixels:     cropPixels,
		CropPosition:   cropPosition,
		InputURL:       req.InputURL,
		InputFilename:  req.InputFilename,
		Status:         domain.JobQueued,
		Progress:       0,
		WebhookURL:     req.WebhookURL,
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.Jobs.Create(ctx, job); err != nil {
		lg.Error("submit durable insert failed, releasing reservation", slog.String("job_id", jobID), slog.Any("error", err))
		_ = s.Ledger.Release(ctx, req.UserID, jobID)
		return SubmitOutcome{}, fmt.Errorf("%w: %v", domain.ErrInfraTransient, err)
	}

	payload := domain.JobTaskPayload{
		JobID:          jobID,
		UserID:         req.UserID,
		InputURL:       req.InputURL,
		InputFilename:  req.InputFilename,
		CropPixels:     cropPixels,
		CropPosition:   cropPosition,
		Platform:       resolvedPlatform,
		ProcessingMode: req.ProcessingMode,
		WebhookURL:     req.WebhookURL,
		Metadata:       req.Metadata,
	}
	if _, err := s.Queue.EnqueueJob(ctx, payload); err != nil {
		lg.Error("submit enqueue failed, compensating", slog.String("job_id", jobID), slog.Any("error", err))
		_ = s.Ledger.Release(ctx, req.UserID, jobID)
		if delErr := s.Jobs.Delete(ctx, jobID); delErr != nil {
			lg.Error("submit compensation delete failed, job left queued for sweeper", slog.String("job_id", jobID), slog.Any("error", delErr))
		}
		return SubmitOutcome{}, fmt.Errorf("%w: %v", domain.ErrInfraTransient, err)
	}

	lg.Info("job submitted", slog.String("job_id", jobID), slog.String("user_id", req.UserID), slog.String("platform", resolvedPlatform), slog.String("processing_mode", string(req.ProcessingMode)), slog.Int64("credits_charged", cost))

	return SubmitOutcome{
		JobID:               jobID,
		Status:              domain.JobQueued,
		Platform:            resolvedPlatform,
		ProcessingMode:      req.ProcessingMode,
		CropPixels:          cropPixels,
		CropPosition:        cropPosition,
		CreditsCharged:      cost,
		CreatedAt:           now,
		EstimatedCompletion: now.Add(estimatedProcessingTime),
	}, nil
}

// estimatedProcessingTime is a rough estimate surfaced to the caller; it is
// not a contractual SLA.
const estimatedProcessingTime = 2 * time.Minute

// SubmitBatch submits each request independently (spec.md §4.1 "Batch
// limited to a fixed cap"); a failure in one item does not roll back
// others already submitted. The caller must enforce the batch-size cap
// before calling this (see httpserver.ValidateBatchSize).
func (s SubmitService) SubmitBatch(ctx domain.Context, reqs []SubmitRequest) ([]SubmitOutcome, []error) {
	outcomes := make([]SubmitOutcome, len(reqs))
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		outcomes[i], errs[i] = s.Submit(ctx, req)
	}
	return outcomes, errs
}

var jobIDEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// newJobID generates an opaque job_id: the "job_" prefix plus 12 URL-safe
// characters (spec.md §3).
func newJobID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "job_" + strings.ToLower(jobIDEncoding.EncodeToString(b[:]))[:12]
}
