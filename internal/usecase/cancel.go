package usecase

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
	obsctx "github.com/fairyhunter13/watermark-removal/internal/observability"
)

// CancelService implements cancellation (spec.md §4.1 "job query" sibling
// contract): allowed only while the job is non-terminal. The job's queue
// entry is not removed; credits are released once the row is cancelled.
type CancelService struct {
	Jobs   domain.JobRepository
	Ledger domain.LedgerRepository
}

// NewCancelService constructs a CancelService.
func NewCancelService(jobs domain.JobRepository, ledger domain.LedgerRepository) CancelService {
	return CancelService{Jobs: jobs, Ledger: ledger}
}

var cancellableStatuses = map[domain.JobStatus]bool{
	domain.JobQueued:     true,
	domain.JobValidating: true,
	domain.JobProcessing: true,
}

// Cancel marks the job cancelled and releases its reservation. It does not
// attempt to remove the job's queue entry directly; a worker picking up an
// already-cancelled job discovers this via the read-before-write check on
// its terminal write (spec.md §5 "Cancellation and timeouts").
func (s CancelService) Cancel(ctx domain.Context, jobID, userID string) error {
	lg := obsctx.LoggerFromContext(ctx)

	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.UserID != userID {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	if !cancellableStatuses[j.Status] {
		return fmt.Errorf("%w: job %s is %s", domain.ErrNotCancellable, jobID, j.Status)
	}

	if err := s.Jobs.UpdateProgress(ctx, jobID, func(job *domain.Job) error {
		if !cancellableStatuses[job.Status] {
			return fmt.Errorf("%w: job %s is %s", domain.ErrNotCancellable, jobID, job.Status)
		}
		job.Status = domain.JobCancelled
		return nil
	}); err != nil {
		return err
	}

	if err := s.Ledger.Release(ctx, userID, jobID); err != nil {
		lg.Error("cancel release failed", slog.String("job_id", jobID), slog.Any("error", err))
		return err
	}

	lg.Info("job cancelled", slog.String("job_id", jobID), slog.String("user_id", userID))
	return nil
}
