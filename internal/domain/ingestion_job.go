package domain

import (
	"fmt"
	"time"
)

// JobStatus represents the status of an ingestion job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IngestionJob is a queued request to run one file through the pipeline
type IngestionJob struct {
	ID              string
	FileID          string
	OwnerID         string
	Status          JobStatus
	Retries         int32
	ForceRegenerate bool
	Error           string
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

// NewIngestionJob creates a new pending IngestionJob
func NewIngestionJob(id, fileID, ownerID string, forceRegenerate bool, createdAt time.Time) *IngestionJob {
	return &IngestionJob{
		ID:              id,
		FileID:          fileID,
		OwnerID:         ownerID,
		Status:          JobStatusPending,
		ForceRegenerate: forceRegenerate,
		CreatedAt:       createdAt,
	}
}

// ValidateIngestionJob validates an IngestionJob instance
func ValidateIngestionJob(j *IngestionJob) error {
	if j == nil {
		return fmt.Errorf("ingestion job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("ingestion job ID is required")
	}

	if j.FileID == "" {
		return fmt.Errorf("ingestion job FileID is required")
	}

	if j.OwnerID == "" {
		return fmt.Errorf("ingestion job OwnerID is required")
	}

	if !isValidJobStatus(j.Status) {
		return fmt.Errorf("ingestion job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("ingestion job Retries cannot be negative")
	}

	return nil
}

func isValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
