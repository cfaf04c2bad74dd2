package domain

import (
	"fmt"
	"time"
)

// RebuildJobStatus represents the status of a corpus rebuild job
type RebuildJobStatus string

const (
	RebuildJobStatusPending    RebuildJobStatus = "pending"
	RebuildJobStatusProcessing RebuildJobStatus = "processing"
	RebuildJobStatusCompleted  RebuildJobStatus = "completed"
	RebuildJobStatusFailed     RebuildJobStatus = "failed"
)

// RebuildJob represents an asynchronous corpus rebuild request
type RebuildJob struct {
	ID          string
	Key         CorpusKey
	Status      RebuildJobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewRebuildJob creates a pending RebuildJob
func NewRebuildJob(id string, key CorpusKey, createdAt time.Time) *RebuildJob {
	return &RebuildJob{
		ID:        id,
		Key:       key,
		Status:    RebuildJobStatusPending,
		CreatedAt: createdAt,
	}
}

// ValidateRebuildJob validates a RebuildJob instance
func ValidateRebuildJob(j *RebuildJob) error {
	if j == nil {
		return fmt.Errorf("rebuild job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("rebuild job ID is required")
	}

	if err := ValidateCorpusKey(j.Key); err != nil {
		return fmt.Errorf("rebuild job Key is invalid: %w", err)
	}

	if !isValidRebuildJobStatus(j.Status) {
		return fmt.Errorf("rebuild job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("rebuild job Retries cannot be negative")
	}

	return nil
}

func isValidRebuildJobStatus(s RebuildJobStatus) bool {
	switch s {
	case RebuildJobStatusPending, RebuildJobStatusProcessing,
		RebuildJobStatusCompleted, RebuildJobStatusFailed:
		return true
	}
	return false
}
