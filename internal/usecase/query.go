package usecase

import (
	"fmt"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// JobQueryService provides read access to a job's persisted descriptor
// (spec.md §4.1 "job query").
type JobQueryService struct {
	Jobs domain.JobRepository
}

// NewJobQueryService constructs a JobQueryService.
func NewJobQueryService(jobs domain.JobRepository) JobQueryService {
	return JobQueryService{Jobs: jobs}
}

// Get returns the job, scoped to userID: a job owned by a different user is
// reported as not-found rather than leaking its existence.
func (s JobQueryService) Get(ctx domain.Context, jobID, userID string) (domain.Job, error) {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.UserID != userID {
		return domain.Job{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, jobID)
	}
	return j, nil
}

// Download returns the output descriptor for a completed job.
func (s JobQueryService) Download(ctx domain.Context, jobID, userID string) (outputURL string, expiresAt *string, err error) {
	j, err := s.Get(ctx, jobID, userID)
	if err != nil {
		return "", nil, err
	}
	if j.Status != domain.JobCompleted {
		return "", nil, fmt.Errorf("%w: job %s has not completed", domain.ErrConflict, jobID)
	}
	var expiry *string
	if j.ExpiresAt != nil {
		s := j.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
		expiry = &s
	}
	return j.OutputURL, expiry, nil
}
