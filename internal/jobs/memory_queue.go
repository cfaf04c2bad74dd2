package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/tutorion/internal/domain"
)

// DefaultQueueCapacity bounds the number of unfinished jobs a MemoryQueue holds.
const DefaultQueueCapacity = 256

// MemoryQueue is an in-process rebuild queue for deployments without
// Postgres. Jobs do not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	capacity int
	jobs     map[string]*domain.RebuildJob
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MemoryQueue{
		capacity: capacity,
		jobs:     make(map[string]*domain.RebuildJob),
	}
}

// Enqueue adds job unless a pending job for the same corpus exists, in which
// case that job is returned.
func (q *MemoryQueue) Enqueue(_ context.Context, job *domain.RebuildJob) (*domain.RebuildJob, error) {
	if err := domain.ValidateRebuildJob(job); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid rebuild job", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if existing := q.pendingFor(job.Key, ""); existing != nil {
		return copyJob(existing), nil
	}

	unfinished := 0
	for _, j := range q.jobs {
		if j.Status == domain.RebuildJobStatusPending || j.Status == domain.RebuildJobStatusProcessing {
			unfinished++
		}
	}
	if unfinished >= q.capacity {
		return nil, domain.ErrRebuildQueueFull
	}

	q.pruneFinished()
	q.jobs[job.ID] = copyJob(job)
	return copyJob(job), nil
}

func (q *MemoryQueue) GetByID(_ context.Context, id string) (*domain.RebuildJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrRebuildJobNotFound
	}
	return copyJob(job), nil
}

func (q *MemoryQueue) ClaimPending(_ context.Context, limit int) ([]*domain.RebuildJob, error) {
	if limit <= 0 {
		limit = ClaimBatchSize
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*domain.RebuildJob
	for _, j := range q.jobs {
		if j.Status == domain.RebuildJobStatusPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, k int) bool {
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	claimed := make([]*domain.RebuildJob, 0, len(pending))
	for _, j := range pending {
		j.Status = domain.RebuildJobStatusProcessing
		j.ProcessedAt = nil
		claimed = append(claimed, copyJob(j))
	}
	return claimed, nil
}

func (q *MemoryQueue) UpdateStatus(_ context.Context, id string, status domain.RebuildJobStatus, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return domain.ErrRebuildJobNotFound
	}

	if status == domain.RebuildJobStatusPending && q.pendingFor(job.Key, id) != nil {
		status = domain.RebuildJobStatusFailed
		errMsg = domain.ErrRebuildSuperseded.Message
	}

	job.Status = status
	job.Error = errMsg
	job.ProcessedAt = nil
	if status == domain.RebuildJobStatusCompleted || status == domain.RebuildJobStatusFailed {
		now := time.Now().UTC()
		job.ProcessedAt = &now
	}
	return nil
}

func (q *MemoryQueue) IncrementRetries(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return domain.ErrRebuildJobNotFound
	}
	job.Retries++
	return nil
}

func (q *MemoryQueue) pendingFor(key domain.CorpusKey, exceptID string) *domain.RebuildJob {
	for _, j := range q.jobs {
		if j.ID != exceptID && j.Key == key && j.Status == domain.RebuildJobStatusPending {
			return j
		}
	}
	return nil
}

// pruneFinished drops finished jobs once the map holds far more than the
// queue capacity, keeping the most recent ones for status lookups.
func (q *MemoryQueue) pruneFinished() {
	if len(q.jobs) < 4*q.capacity {
		return
	}
	var finished []*domain.RebuildJob
	for _, j := range q.jobs {
		if j.Status == domain.RebuildJobStatusCompleted || j.Status == domain.RebuildJobStatusFailed {
			finished = append(finished, j)
		}
	}
	sort.Slice(finished, func(i, k int) bool {
		return finished[i].CreatedAt.Before(finished[k].CreatedAt)
	})
	for _, j := range finished[:len(finished)/2] {
		delete(q.jobs, j.ID)
	}
}

func copyJob(j *domain.RebuildJob) *domain.RebuildJob {
	cp := *j
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
