package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scitex/scitex-cloud/pkg/identity"
	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/server/store"
	"github.com/scitex/scitex-cloud/pkg/slurm"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// Slurm is the part of *slurm.Manager the service uses.
type Slurm interface {
	Prepare(req slurm.SubmitRequest) (*slurm.Prepared, error)
	Submit(ctx context.Context, p *slurm.Prepared) (*slurm.Submission, error)
	GetJobStatus(ctx context.Context, jobID string) (*slurm.JobStatus, error)
	CancelJob(ctx context.Context, jobID string) error
	GetJobOutput(ctx context.Context, jobID, workspace string) (*slurm.Output, error)
}

// Tasks is the part of *tasks.Dispatcher the service uses.
type Tasks interface {
	ApplyAsync(ctx context.Context, task string, args any, opts tasks.Options) (*tasks.Message, error)
	Result(ctx context.Context, id string) (*tasks.Result, error)
	Revoke(ctx context.Context, id string) error
}

// SubmitRequest is the body of POST /code/api/jobs/submit/.
type SubmitRequest struct {
	ScriptPath    string `json:"script_path"`
	ContainerPath string `json:"container_path"`
	Workspace     string `json:"workspace"`
	ProjectID     string `json:"project_id,omitempty"`
	JobName       string `json:"job_name"`
	Partition     string `json:"partition,omitempty"`
	CPUs          int    `json:"cpus"`
	MemoryGB      int    `json:"memory_gb"`
	TimeLimit     string `json:"time_limit,omitempty"`
	// Backend forces "slurm" or "task"; empty lets the service decide.
	Backend string `json:"backend,omitempty"`
}

// Service routes submissions to SLURM or the task queue and keeps the job
// records up to date.
type Service struct {
	jobs     store.JobsStore
	projects store.ProjectsStore
	tasks    Tasks
	log      logrus.FieldLogger
	now      func() time.Time

	mu     sync.RWMutex
	slurm  Slurm
	limits Limits

	// submitting holds a *sync.Mutex per user id
	submitting sync.Map
}

// NewService creates a job service.
func NewService(jobs store.JobsStore, projects store.ProjectsStore, sl Slurm, tq Tasks, limits Limits, log logrus.FieldLogger) *Service {
	return &Service{
		jobs:     jobs,
		projects: projects,
		tasks:    tq,
		slurm:    sl,
		limits:   limits,
		log:      log,
		now:      time.Now,
	}
}

// Configure swaps the SLURM manager and limits, for configuration reloads.
// A nil manager keeps the current one.
func (s *Service) Configure(sl Slurm, limits Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl != nil {
		s.slurm = sl
	}
	s.limits = limits
}

// Limits returns the limits in effect.
func (s *Service) Limits() Limits {
	_, limits := s.current()
	return limits
}

func (s *Service) current() (Slurm, Limits) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slurm, s.limits
}

// Submit validates req and hands it to the backend it belongs on.
func (s *Service) Submit(ctx context.Context, caller *identity.Identity, req SubmitRequest) (*model.Job, error) {
	sl, limits := s.current()

	userID, err := uuid.Parse(caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: caller has no valid user id", ErrForbidden)
	}

	var projectID *uuid.UUID
	if req.ProjectID != "" {
		project, err := s.ownedProject(ctx, caller, req.ProjectID)
		if err != nil {
			return nil, err
		}
		projectID = &project.ID
		if req.Workspace == "" && limits.WorkspaceRoot != "" {
			req.Workspace = ProjectWorkspace(limits.WorkspaceRoot, caller.Username, project.Slug)
		}
	}
	if err := CheckWorkspace(limits.WorkspaceRoot, caller.Username, req.Workspace); err != nil {
		return nil, err
	}

	// The count and the insert of the new job happen under a per-user lock.
	// The lock is local to this process, so gateways sharing a database can
	// each let one submission past the limit.
	if limits.MaxSubmitPerUser > 0 {
		unlock := s.lockUser(userID)
		defer unlock()
		active, err := s.jobs.CountActiveJobs(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("count active jobs: %w", err)
		}
		if active >= int64(limits.MaxSubmitPerUser) {
			return nil, fmt.Errorf("%w: %d active jobs, limit is %d", slurm.ErrQuotaExceeded, active, limits.MaxSubmitPerUser)
		}
	}

	prepared, err := sl.Prepare(slurm.SubmitRequest{
		UserID:        caller.UserID,
		ScriptPath:    req.ScriptPath,
		ContainerPath: req.ContainerPath,
		Workspace:     req.Workspace,
		JobName:       req.JobName,
		Partition:     req.Partition,
		CPUs:          req.CPUs,
		MemoryGB:      req.MemoryGB,
		TimeLimit:     req.TimeLimit,
	})
	if err != nil {
		return nil, err
	}

	backend, err := chooseBackend(req, prepared, limits)
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:            uuid.New(),
		UserID:        userID,
		ProjectID:     projectID,
		Name:          prepared.JobName,
		Backend:       backend,
		CPUs:          prepared.CPUs,
		MemoryGB:      prepared.MemoryGB,
		TimeLimit:     int(prepared.TimeLimit / time.Second),
		ScriptPath:    prepared.Script,
		ContainerPath: prepared.Container,
		Workspace:     prepared.Workspace,
		State:         slurm.StatePending,
		SubmittedAt:   s.now().UTC(),
	}

	if backend == model.BackendSlurm {
		return s.submitSlurm(ctx, sl, job, prepared)
	}
	if req.TimeLimit == "" {
		prepared.TimeLimit = limits.AsyncMaxTime
		job.TimeLimit = int(limits.AsyncMaxTime / time.Second)
	}
	return s.submitTask(ctx, job, prepared)
}

func (s *Service) lockUser(id uuid.UUID) func() {
	v, _ := s.submitting.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// chooseBackend sends a prepared request to SLURM when it asks for it or
// exceeds any async threshold.
func chooseBackend(req SubmitRequest, p *slurm.Prepared, limits Limits) (string, error) {
	heavy := p.CPUs > limits.AsyncMaxCPUs ||
		p.MemoryGB > limits.AsyncMaxMemoryGB ||
		(req.TimeLimit != "" && p.TimeLimit > limits.AsyncMaxTime)

	switch req.Backend {
	case model.BackendSlurm:
		return model.BackendSlurm, nil
	case model.BackendTask:
		if heavy || req.Partition != "" {
			return "", fmt.Errorf("%w: request exceeds the limits of the task backend (%d cpus, %d GB, %s)",
				slurm.ErrInvalidRequest, limits.AsyncMaxCPUs, limits.AsyncMaxMemoryGB, slurm.FormatTimeLimit(limits.AsyncMaxTime))
		}
		return model.BackendTask, nil
	case "":
	default:
		return "", fmt.Errorf("%w: unknown backend %q", slurm.ErrInvalidRequest, req.Backend)
	}

	if heavy || req.Partition != "" || limits.AsyncMaxTime <= 0 {
		return model.BackendSlurm, nil
	}
	return model.BackendTask, nil
}

func (s *Service) submitSlurm(ctx context.Context, sl Slurm, job *model.Job, p *slurm.Prepared) (*model.Job, error) {
	sub, err := sl.Submit(ctx, p)
	if err != nil {
		return nil, err
	}
	job.SlurmJobID = sub.JobID
	job.Partition = sub.Partition

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		log := s.log.WithField("slurm_job_id", sub.JobID)
		if cerr := sl.CancelJob(context.WithoutCancel(ctx), sub.JobID); cerr != nil {
			log.WithError(cerr).Error("could not cancel untracked slurm job")
		}
		return nil, fmt.Errorf("record job: %w", err)
	}
	return job, nil
}

func (s *Service) submitTask(ctx context.Context, job *model.Job, p *slurm.Prepared) (*model.Job, error) {
	job.TaskName = TaskRunScript
	job.TaskID = uuid.NewString()
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}

	msg, err := s.tasks.ApplyAsync(ctx, TaskRunScript, RunScriptArgs{
		JobID:     job.ID.String(),
		UserID:    job.UserID.String(),
		Workspace: p.Workspace,
		ScriptRel: p.ScriptRel,
		Container: p.Container,
		CPUs:      p.CPUs,
		MemoryGB:  p.MemoryGB,
		TimeLimit: job.TimeLimit,
	}, tasks.Options{TaskID: job.TaskID})
	if err != nil {
		s.finish(job, slurm.StateFailed, "enqueue failed: "+err.Error(), nil)
		if uerr := s.jobs.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
			s.log.WithError(uerr).WithField("job_id", job.ID).Error("could not mark job failed")
		}
		return nil, err
	}

	job.Queue = msg.Queue
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("could not record task queue")
	}
	return job, nil
}

// Get returns a job owned by the caller, without refreshing it.
func (s *Service) Get(ctx context.Context, caller *identity.Identity, jobID string) (*model.Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid job id %q", slurm.ErrInvalidRequest, jobID)
	}
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", slurm.ErrJobNotFound, jobID)
		}
		return nil, err
	}
	if !caller.Owns(job.UserID.String()) {
		return nil, fmt.Errorf("%w: job %s belongs to another user", ErrForbidden, jobID)
	}
	return job, nil
}

// Status refreshes the job from its backend and returns it.
func (s *Service) Status(ctx context.Context, caller *identity.Identity, jobID string) (*model.Job, error) {
	job, err := s.Get(ctx, caller, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.Refresh(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Cancel stops a job. SLURM jobs are scancelled; task jobs are revoked
// while still queued and refused once a worker has started them. The job is
// refreshed first so a job that finished since the last poll keeps the state
// its backend reported.
func (s *Service) Cancel(ctx context.Context, caller *identity.Identity, jobID string) (*model.Job, error) {
	job, err := s.Get(ctx, caller, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.Refresh(ctx, job); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("could not refresh job before cancelling")
	}
	if job.IsTerminal() {
		return job, fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, jobID, job.State)
	}

	sl, _ := s.current()
	switch job.Backend {
	case model.BackendSlurm:
		if err := s.cancelSlurm(ctx, sl, job); err != nil {
			if errors.Is(err, ErrAlreadyFinished) {
				return job, err
			}
			return nil, err
		}
		return job, nil
	case model.BackendTask:
		if err := s.tasks.Revoke(ctx, job.TaskID); err != nil {
			switch {
			case errors.Is(err, tasks.ErrAlreadyStarted):
				s.refreshAfterRevoke(ctx, job)
				return job, fmt.Errorf("%w: %s", ErrNotCancellable, jobID)
			case errors.Is(err, tasks.ErrAlreadyFinished):
				s.refreshAfterRevoke(ctx, job)
				return job, fmt.Errorf("%w: %s", ErrAlreadyFinished, jobID)
			}
			return nil, err
		}
	}

	s.finish(job, slurm.StateCancelled, "cancelled by user", nil)
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("record cancellation: %w", err)
	}
	return job, nil
}

// refreshAfterRevoke records the task state a refused revoke ran into.
func (s *Service) refreshAfterRevoke(ctx context.Context, job *model.Job) {
	if err := s.Refresh(ctx, job); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Warn("could not refresh task job")
	}
}

// cancelSlurm runs scancel and records what SLURM reports afterwards. A job
// that turns out to have finished on its own keeps its state and exit code
// and ErrAlreadyFinished is returned. scancel only signals the job, so a job
// still listed as active is recorded as CANCELLED.
func (s *Service) cancelSlurm(ctx context.Context, sl Slurm, job *model.Job) error {
	cancelErr := sl.CancelJob(ctx, job.SlurmJobID)
	if cancelErr != nil && !errors.Is(cancelErr, slurm.ErrJobNotFound) {
		return cancelErr
	}

	status, err := sl.GetJobStatus(ctx, job.SlurmJobID)
	switch {
	case err == nil && slurm.IsTerminal(status.State):
		s.applySlurmStatus(job, status)
	case cancelErr != nil:
		s.finish(job, slurm.StateCancelled, "no longer known to slurm", nil)
	default:
		if err != nil && !errors.Is(err, slurm.ErrJobNotFound) {
			s.log.WithError(err).WithField("job_id", job.ID).Warn("could not read job state after scancel")
		}
		s.finish(job, slurm.StateCancelled, "cancelled by user", nil)
	}

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}
	if job.State != slurm.StateCancelled {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyFinished, job.ID, job.State)
	}
	return nil
}

// Output returns the tail of the job's stdout and stderr.
func (s *Service) Output(ctx context.Context, caller *identity.Identity, jobID string) (*slurm.Output, error) {
	job, err := s.Get(ctx, caller, jobID)
	if err != nil {
		return nil, err
	}
	sl, limits := s.current()
	if job.Backend == model.BackendSlurm {
		return sl.GetJobOutput(ctx, job.SlurmJobID, job.Workspace)
	}
	stdout, stderr := TaskOutputPaths(job.Workspace, job.ID.String())
	max := limits.MaxOutputBytes
	if max <= 0 {
		max = 1 << 20
	}
	return slurm.ReadOutput(stdout, stderr, max)
}

// Queue returns the caller's jobs that have not finished, refreshed.
func (s *Service) Queue(ctx context.Context, caller *identity.Identity) ([]model.Job, error) {
	userID, err := uuid.Parse(caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: caller has no valid user id", ErrForbidden)
	}
	jobs, err := s.jobs.ListActiveJobs(ctx, store.JobFilter{UserID: userID})
	if err != nil {
		return nil, err
	}

	active := make([]model.Job, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		if err := s.Refresh(ctx, job); err != nil {
			s.log.WithError(err).WithField("job_id", job.ID).Warn("could not refresh job")
		}
		if !job.IsTerminal() {
			active = append(active, *job)
		}
	}
	return active, nil
}

func (s *Service) ownedProject(ctx context.Context, caller *identity.Identity, projectID string) (*model.Project, error) {
	id, err := uuid.Parse(projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid project id %q", slurm.ErrInvalidRequest, projectID)
	}
	project, err := s.projects.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %s", store.ErrNotFound, projectID)
		}
		return nil, err
	}
	if !caller.Owns(project.OwnerID.String()) {
		return nil, fmt.Errorf("%w: project %s belongs to another user", ErrForbidden, projectID)
	}
	return project, nil
}

// ProjectWorkspace is the workspace directory of a project.
func ProjectWorkspace(root, username, slug string) string {
	return filepath.Join(root, username, slug)
}

// CheckWorkspace confines workspaces to <root>/<username> when a root is
// configured. Other path checks are left to the SLURM wrapper.
func CheckWorkspace(root, username, workspace string) error {
	if root == "" || workspace == "" || !filepath.IsAbs(workspace) {
		return nil
	}
	home := filepath.Join(filepath.Clean(root), username)
	rel, err := filepath.Rel(home, filepath.Clean(workspace))
	if username == "" || err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: workspace %s is outside %s", ErrForbidden, workspace, home)
	}
	return nil
}
