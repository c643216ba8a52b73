package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

func TestSubmitService_Submit_CropHappyPath(t *testing.T) {
	jobs := newFakeJobs()
	ledger := &fakeLedger{}
	queue := &fakeQueue{}
	s := NewSubmitService(jobs, ledger, queue, 20)

	out, err := s.Submit(context.Background(), SubmitRequest{
		UserID:         "user-1",
		InputURL:       "https://example.test/a.mp4",
		Platform:       "sora",
		ProcessingMode: domain.ModeCrop,
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.CreditsCharged != 1 {
		t.Fatalf("CreditsCharged = %d, want 1", out.CreditsCharged)
	}
	if out.Status != domain.JobQueued {
		t.Fatalf("Status = %v, want queued", out.Status)
	}
	if out.CropPixels != 120 || out.CropPosition != domain.CropBottom {
		t.Fatalf("crop params = (%d, %s), want sora preset (120, bottom)", out.CropPixels, out.CropPosition)
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0].JobID != out.JobID {
		t.Fatalf("job not enqueued correctly: %+v", queue.enqueued)
	}
	if len(jobs.created) != 1 {
		t.Fatalf("job not created")
	}
}

func TestSubmitService_Submit_InpaintCostsTwoCredits(t *testing.T) {
	jobs := newFakeJobs()
	ledger := &fakeLedger{}
	queue := &fakeQueue{}
	s := NewSubmitService(jobs, ledger, queue, 20)

	out, err := s.Submit(context.Background(), SubmitRequest{UserID: "u", InputURL: "https://example.test/a.mp4", ProcessingMode: domain.ModeInpaint})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.CreditsCharged != 2 {
		t.Fatalf("CreditsCharged = %d, want 2", out.CreditsCharged)
	}
}

func TestSubmitService_Submit_UnknownPlatformFallsBackToCustom(t *testing.T) {
	jobs := newFakeJobs()
	s := NewSubmitService(jobs, &fakeLedger{}, &fakeQueue{}, 20)

	out, err := s.Submit(context.Background(), SubmitRequest{UserID: "u", InputURL: "https://example.test/a.mp4", Platform: "some-new-generator"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if out.Platform != "custom" {
		t.Fatalf("Platform = %q, want custom", out.Platform)
	}
}

func TestSubmitService_Submit_InsufficientCreditsNoJobNoEnqueue(t *testing.T) {
	jobs := newFakeJobs()
	queue := &fakeQueue{}
	ledger := &fakeLedger{reserveErr: domain.ErrQuota}
	s := NewSubmitService(jobs, ledger, queue, 20)

	_, err := s.Submit(context.Background(), SubmitRequest{UserID: "u", InputURL: "https://example.test/a.mp4"})
	if !errors.Is(err, domain.ErrQuota) {
		t.Fatalf("err = %v, want ErrQuota", err)
	}
	if len(jobs.created) != 0 {
		t.Fatalf("job row should not be created on reservation failure")
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("nothing should be enqueued on reservation failure")
	}
}

func TestSubmitService_Submit_EnqueueFailureCompensatesReleaseAndDelete(t *testing.T) {
	jobs := newFakeJobs()
	ledger := &fakeLedger{}
	queue := &fakeQueue{err: errors.New("broker unavailable")}
	s := NewSubmitService(jobs, ledger, queue, 20)

	_, err := s.Submit(context.Background(), SubmitRequest{UserID: "u", InputURL: "https://example.test/a.mp4"})
	if err == nil {
		t.Fatal("expected error on enqueue failure")
	}
	if len(ledger.releaseCalls) != 1 {
		t.Fatalf("release calls = %d, want 1", len(ledger.releaseCalls))
	}
	if len(jobs.deleted) != 1 {
		t.Fatalf("deleted jobs = %d, want 1", len(jobs.deleted))
	}
}

func TestSubmitService_Submit_DurableInsertFailureReleases(t *testing.T) {
	jobs := newFakeJobs()
	jobs.createErr = errors.New("db down")
	ledger := &fakeLedger{}
	s := NewSubmitService(jobs, ledger, &fakeQueue{}, 20)

	_, err := s.Submit(context.Background(), SubmitRequest{UserID: "u", InputURL: "https://example.test/a.mp4"})
	if err == nil {
		t.Fatal("expected error on durable insert failure")
	}
	if len(ledger.releaseCalls) != 1 {
		t.Fatalf("release calls = %d, want 1", len(ledger.releaseCalls))
	}
}

func TestSubmitService_SubmitBatch_IndependentPerItem(t *testing.T) {
	jobs := newFakeJobs()
	s := NewSubmitService(jobs, &fakeLedger{}, &fakeQueue{}, 20)

	reqs := []SubmitRequest{
		{UserID: "u", InputURL: "https://example.test/a.mp4"},
		{UserID: "u", InputURL: "https://example.test/b.mp4"},
	}
	outcomes, errs := s.SubmitBatch(context.Background(), reqs)
	if len(outcomes) != 2 || len(errs) != 2 {
		t.Fatalf("unexpected batch result lengths")
	}
	for _, e := range errs {
		if e != nil {
			t.Fatalf("unexpected error in batch: %v", e)
		}
	}
	if outcomes[0].JobID == outcomes[1].JobID {
		t.Fatalf("batch items must get distinct job ids")
	}
}
