package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

func TestCancelService_Cancel_QueuedJobReleasesCredit(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "u", Status: domain.JobQueued}
	ledger := &fakeLedger{}
	s := NewCancelService(jobs, ledger)

	if err := s.Cancel(context.Background(), "job-1", "u"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if jobs.jobs["job-1"].Status != domain.JobCancelled {
		t.Fatalf("status = %v, want cancelled", jobs.jobs["job-1"].Status)
	}
	if len(ledger.releaseCalls) != 1 {
		t.Fatalf("release calls = %d, want 1", len(ledger.releaseCalls))
	}
}

func TestCancelService_Cancel_CompletedJobRejected(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "u", Status: domain.JobCompleted}
	s := NewCancelService(jobs, &fakeLedger{})

	if err := s.Cancel(context.Background(), "job-1", "u"); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}
}

func TestCancelService_Cancel_NonOwnerGetsNotFound(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "owner", Status: domain.JobQueued}
	s := NewCancelService(jobs, &fakeLedger{})

	if err := s.Cancel(context.Background(), "job-1", "someone-else"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
