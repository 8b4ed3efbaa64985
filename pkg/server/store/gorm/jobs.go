package gorm

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server/store"
	"github.com/scitex/scitex-cloud/pkg/slurm"
)

// Ensure JobsStore implements store.JobsStore
var _ store.JobsStore = (*JobsStore)(nil)

// JobsStore implements store.JobsStore using GORM
type JobsStore struct {
	db *gorm.DB
}

// NewJobsStore creates a new JobsStore
func NewJobsStore(db *gorm.DB) *JobsStore {
	return &JobsStore{db: db}
}

func (s *JobsStore) CreateJob(ctx context.Context, job *model.Job) error {
	return translate(withContext(s.db, ctx).Create(job).Error)
}

func (s *JobsStore) GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	if err := withContext(s.db, ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

func (s *JobsStore) GetJobByTaskID(ctx context.Context, taskID string) (*model.Job, error) {
	var job model.Job
	if err := withContext(s.db, ctx).Where("task_id = ?", taskID).First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

func (s *JobsStore) UpdateJob(ctx context.Context, job *model.Job) error {
	return translate(withContext(s.db, ctx).Save(job).Error)
}

func (s *JobsStore) CountActiveJobs(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := withContext(s.db, ctx).Model(&model.Job{}).
		Where("user_id = ? AND state NOT IN ?", userID, slurm.TerminalStates()).
		Count(&count).Error
	return count, err
}

func (s *JobsStore) ListActiveJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	query := withContext(s.db, ctx).Where("state NOT IN ?", slurm.TerminalStates())
	if filter.UserID != uuid.Nil {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Backend != "" {
		query = query.Where("backend = ?", filter.Backend)
	}

	var jobs []model.Job
	if err := query.Order("submitted_at").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
