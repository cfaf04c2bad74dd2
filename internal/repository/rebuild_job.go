package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/tutorion/internal/domain"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

const rebuildJobColumns = `id, owner_id, corpus_id, status, retries, error, created_at, processed_at`

// RebuildJobRepository is the Postgres-backed rebuild queue.
type RebuildJobRepository struct {
	db dbtx
}

func NewRebuildJobRepository(pool *pgxpool.Pool) *RebuildJobRepository {
	return &RebuildJobRepository{db: pool}
}

func NewRebuildJobRepositoryWithTx(tx pgx.Tx) *RebuildJobRepository {
	return &RebuildJobRepository{db: tx}
}

// Enqueue inserts job unless a pending job for the same corpus already
// exists, in which case that job is returned instead.
func (r *RebuildJobRepository) Enqueue(ctx context.Context, job *domain.RebuildJob) (*domain.RebuildJob, error) {
	if err := domain.ValidateRebuildJob(job); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid rebuild job", err)
	}

	cmdTag, err := r.db.Exec(ctx,
		`INSERT INTO rebuild_jobs (id, owner_id, corpus_id, status, retries, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, NULL, $6, NULL)
		 ON CONFLICT (owner_id, corpus_id) WHERE status = 'pending' DO NOTHING`,
		job.ID, job.Key.OwnerID, job.Key.CorpusID, job.Status, job.Retries, job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue rebuild job: %w", err)
	}
	if cmdTag.RowsAffected() == 1 {
		return job, nil
	}

	existing, err := scanRebuildJob(r.db.QueryRow(ctx,
		`SELECT `+rebuildJobColumns+`
		 FROM rebuild_jobs
		 WHERE owner_id = $1 AND corpus_id = $2 AND status = $3`,
		job.Key.OwnerID, job.Key.CorpusID, domain.RebuildJobStatusPending,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The pending job was claimed between the insert and the select.
			return r.Enqueue(ctx, job)
		}
		return nil, err
	}
	return existing, nil
}

func (r *RebuildJobRepository) GetByID(ctx context.Context, id string) (*domain.RebuildJob, error) {
	job, err := scanRebuildJob(r.db.QueryRow(ctx,
		`SELECT `+rebuildJobColumns+` FROM rebuild_jobs WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRebuildJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimPending moves up to limit pending jobs to processing and returns them,
// oldest first. Concurrent workers never claim the same job.
func (r *RebuildJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.RebuildJob, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM rebuild_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE rebuild_jobs
		 SET status = $3,
		     processed_at = NULL
		 FROM cte
		 WHERE rebuild_jobs.id = cte.id
		 RETURNING rebuild_jobs.id, rebuild_jobs.owner_id, rebuild_jobs.corpus_id, rebuild_jobs.status,
		           rebuild_jobs.retries, rebuild_jobs.error, rebuild_jobs.created_at, rebuild_jobs.processed_at`,
		domain.RebuildJobStatusPending, limit, domain.RebuildJobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.RebuildJob
	for rows.Next() {
		job, err := scanRebuildJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *RebuildJobRepository) UpdateStatus(ctx context.Context, id string, status domain.RebuildJobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.RebuildJobStatusCompleted || status == domain.RebuildJobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE rebuild_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, errPtr, processedAt, id,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && status == domain.RebuildJobStatusPending {
		// A newer request for the same corpus is already queued and will redo the work.
		return r.UpdateStatus(ctx, id, domain.RebuildJobStatusFailed, domain.ErrRebuildSuperseded.Message)
	}
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrRebuildJobNotFound
	}
	return nil
}

func (r *RebuildJobRepository) IncrementRetries(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE rebuild_jobs SET retries = retries + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrRebuildJobNotFound
	}
	return nil
}

func scanRebuildJob(row pgx.Row) (*domain.RebuildJob, error) {
	var job domain.RebuildJob
	var errMsg pgtype.Text
	if err := row.Scan(&job.ID, &job.Key.OwnerID, &job.Key.CorpusID, &job.Status, &job.Retries,
		&errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}
