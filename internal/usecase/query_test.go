package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

func TestJobQueryService_Get_ScopesToOwner(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "owner"}
	s := NewJobQueryService(jobs)

	if _, err := s.Get(context.Background(), "job-1", "owner"); err != nil {
		t.Fatalf("owner Get() error = %v", err)
	}
	if _, err := s.Get(context.Background(), "job-1", "someone-else"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("non-owner Get() error = %v, want ErrNotFound", err)
	}
}

func TestJobQueryService_Download_RequiresCompleted(t *testing.T) {
	jobs := newFakeJobs()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "owner", Status: domain.JobProcessing}
	s := NewJobQueryService(jobs)

	if _, _, err := s.Download(context.Background(), "job-1", "owner"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestJobQueryService_Download_ReturnsOutputAndExpiry(t *testing.T) {
	exp := time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC)
	jobs := newFakeJobs()
	jobs.jobs["job-1"] = domain.Job{ID: "job-1", UserID: "owner", Status: domain.JobCompleted, OutputURL: "https://blob/out.mp4", ExpiresAt: &exp}
	s := NewJobQueryService(jobs)

	url, expiresAt, err := s.Download(context.Background(), "job-1", "owner")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if url != "https://blob/out.mp4" {
		t.Fatalf("url = %q", url)
	}
	if expiresAt == nil {
		t.Fatalf("expiresAt should not be nil")
	}
}
