package jobs

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server/store"
)

// memStore keeps jobs and projects in maps.
type memStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]model.Job
	projects map[uuid.UUID]model.Project
	updates  int
	// updateErr makes UpdateJob fail when set
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{jobs: map[uuid.UUID]model.Job{}, projects: map[uuid.UUID]model.Project{}}
}

func (s *memStore) CreateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrConflict
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &job, nil
}

func (s *memStore) GetJobByTaskID(_ context.Context, taskID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.TaskID == taskID {
			return &job, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) UpdateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.jobs[job.ID] = *job
	s.updates++
	return nil
}

func (s *memStore) CountActiveJobs(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, job := range s.jobs {
		if job.UserID == userID && !job.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListActiveJobs(_ context.Context, filter store.JobFilter) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []model.Job
	for _, job := range s.jobs {
		if job.IsTerminal() {
			continue
		}
		if filter.UserID != uuid.Nil && job.UserID != filter.UserID {
			continue
		}
		if filter.Backend != "" && job.Backend != filter.Backend {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt) })
	return jobs, nil
}

func (s *memStore) CreateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = *p
	return nil
}

func (s *memStore) GetProject(_ context.Context, id uuid.UUID) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) DeleteProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, p.ID)
	return nil
}
