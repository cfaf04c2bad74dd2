package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/telemetry"
)

const (
	// MaxRetries is the maximum number of attempts for a rebuild job
	MaxRetries = 3
	// ClaimBatchSize is the number of jobs claimed per poll
	ClaimBatchSize = 10
)

// RebuildJobRepository defines the interface for rebuild job persistence
type RebuildJobRepository interface {
	// ClaimPending moves up to limit pending jobs to processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.RebuildJob, error)

	// UpdateStatus updates the status of a rebuild job
	UpdateStatus(ctx context.Context, jobID string, status domain.RebuildJobStatus, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, jobID string) error
}

// Rebuilder rebuilds and persists the indexes of one corpus.
type Rebuilder interface {
	Rebuild(ctx context.Context, key domain.CorpusKey) error
}

// RebuildWorker processes queued corpus rebuilds
type RebuildWorker struct {
	repo      RebuildJobRepository
	rebuilder Rebuilder
}

// NewRebuildWorker creates a new RebuildWorker instance
func NewRebuildWorker(repo RebuildJobRepository, rebuilder Rebuilder) *RebuildWorker {
	return &RebuildWorker{
		repo:      repo,
		rebuilder: rebuilder,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *RebuildWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, ClaimBatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("processing %d pending rebuild jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *RebuildWorker) processJob(ctx context.Context, job *domain.RebuildJob) error {
	ctx, span := telemetry.StartSpan(ctx, "jobs.rebuild", telemetry.SpanAttributes{
		OwnerID:   job.Key.OwnerID,
		CorpusID:  job.Key.CorpusID,
		JobID:     job.ID,
		Operation: "rebuild",
	})
	defer span.End()

	log.Printf("processing job %s for corpus %s", job.ID, job.Key)
	if err := w.rebuilder.Rebuild(ctx, job.Key); err != nil {
		span.SetError(err)
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.RebuildJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("job %s completed successfully", job.ID)
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (w *RebuildWorker) handleJobFailure(ctx context.Context, job *domain.RebuildJob, jobErr error) error {
	log.Printf("job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		telemetry.CaptureError(ctx, fmt.Errorf("rebuild of corpus %s failed after %d attempts: %w", job.Key, MaxRetries, jobErr))
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.RebuildJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.RebuildJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
