package usecase

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
	obsctx "github.com/fairyhunter13/watermark-removal/internal/observability"
)

// CallbackRequest is the worker-reported terminal outcome for one job
// (spec.md §6 "POST /api/internal/jobs/:id/complete").
type CallbackRequest struct {
	JobID            string
	Status           domain.JobStatus
	OutputURL        string
	OutputFilename   string
	OutputSizeBytes  int64
	ProcessingTimeMS int64
	ProcessingMode   domain.ProcessingMode
	ErrorMessage     string
}

// CallbackService applies a worker-reported terminal transition to the job
// row, finalizing or releasing the credit hold accordingly. It is
// idempotent by job_id: a callback for an already-terminal job is a no-op.
type CallbackService struct {
	Jobs          domain.JobRepository
	Ledger        domain.LedgerRepository
	RetentionDays int
}

// NewCallbackService constructs a CallbackService.
func NewCallbackService(jobs domain.JobRepository, ledger domain.LedgerRepository, retentionDays int) CallbackService {
	return CallbackService{Jobs: jobs, Ledger: ledger, RetentionDays: retentionDays}
}

var terminalStatuses = map[domain.JobStatus]bool{
	domain.JobCompleted: true,
	domain.JobFailed:    true,
	domain.JobCancelled: true,
}

// Complete applies req to the job row (spec.md §3 invariant J5: exactly one
// terminal transition per job lifetime).
func (s CallbackService) Complete(ctx domain.Context, req CallbackRequest) error {
	lg := obsctx.LoggerFromContext(ctx)

	j, err := s.Jobs.Get(ctx, req.JobID)
	if err != nil {
		return err
	}
	if terminalStatuses[j.Status] {
		lg.Info("callback for already-terminal job ignored", slog.String("job_id", req.JobID), slog.String("status", string(j.Status)))
		return nil
	}

	now := time.Now().UTC()
	if err := s.Jobs.UpdateProgress(ctx, req.JobID, func(job *domain.Job) error {
		if terminalStatuses[job.Status] {
			return nil
		}
		job.Status = req.Status
		job.CompletedAt = &now
		job.ProcessingTimeMS = req.ProcessingTimeMS
		switch req.Status {
		case domain.JobCompleted:
			job.Progress = 100
			job.OutputURL = req.OutputURL
			job.OutputFilename = req.OutputFilename
			job.OutputSizeBytes = req.OutputSizeBytes
			expires := now.Add(time.Duration(s.RetentionDays) * 24 * time.Hour)
			job.ExpiresAt = &expires
		case domain.JobFailed:
			job.ErrorMessage = req.ErrorMessage
		}
		return nil
	}); err != nil {
		return err
	}

	switch req.Status {
	case domain.JobCompleted:
		if err := s.Ledger.Finalize(ctx, j.UserID, req.JobID, domain.CreditCost(req.ProcessingMode)); err != nil {
			lg.Error("callback finalize failed", slog.String("job_id", req.JobID), slog.Any("error", err))
			return err
		}
	case domain.JobFailed:
		if err := s.Ledger.Release(ctx, j.UserID, req.JobID); err != nil {
			lg.Error("callback release failed", slog.String("job_id", req.JobID), slog.Any("error", err))
			return err
		}
	}

	lg.Info("job callback applied", slog.String("job_id", req.JobID), slog.String("status", string(req.Status)))
	return nil
}
