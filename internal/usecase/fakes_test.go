package usecase

import (
	"sync"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[string]domain.Job
	created []domain.Job
	deleted []string
	createErr error
	deleteErr error
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]domain.Job{}} }

func (f *fakeJobs) Create(_ domain.Context, j domain.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.jobs[j.ID] = j
	f.created = append(f.created, j)
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
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.jobs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeJobs) ListStale(_ domain.Context, status domain.JobStatus, olderThan time.Time, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (f *fakeJobs) Count(_ domain.Context) (int64, error) { return int64(len(f.jobs)), nil }

func (f *fakeJobs) CountByStatus(_ domain.Context, status domain.JobStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}

type fakeLedger struct {
	mu             sync.Mutex
	reserveErr     error
	releaseErr     error
	finalizeErr    error
	reserveCalls   []string
	releaseCalls   []string
	finalizeCalls  []string
	balance        int64
}

func (f *fakeLedger) Reserve(_ domain.Context, userID, jobID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserveCalls = append(f.reserveCalls, jobID)
	f.balance -= amount
	return nil
}

func (f *fakeLedger) Release(_ domain.Context, userID, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.releaseCalls = append(f.releaseCalls, jobID)
	return nil
}

func (f *fakeLedger) Finalize(_ domain.Context, userID, jobID string, finalAmount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalizeCalls = append(f.finalizeCalls, jobID)
	return nil
}

func (f *fakeLedger) Balance(_ domain.Context, userID string) (int64, error) { return f.balance, nil }

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []domain.JobTaskPayload
	err      error
}

func (q *fakeQueue) EnqueueJob(_ domain.Context, payload domain.JobTaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.enqueued = append(q.enqueued, payload)
	return "task-id", nil
}
