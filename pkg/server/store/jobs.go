package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/scitex/scitex-cloud/pkg/model"
)

// JobFilter narrows ListActiveJobs. Zero fields match everything.
type JobFilter struct {
	UserID  uuid.UUID
	Backend string
}

// JobsStore abstracts job storage operations
type JobsStore interface {
	// CreateJob inserts a job record
	CreateJob(ctx context.Context, job *model.Job) error

	// GetJob returns a job by id
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)

	// GetJobByTaskID returns the job backed by a task
	GetJobByTaskID(ctx context.Context, taskID string) (*model.Job, error)

	// UpdateJob saves the tracked state of a job
	UpdateJob(ctx context.Context, job *model.Job) error

	// CountActiveJobs counts the user's jobs that are not in a terminal state
	CountActiveJobs(ctx context.Context, userID uuid.UUID) (int64, error)

	// ListActiveJobs returns jobs not in a terminal state, oldest first
	ListActiveJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
}
