package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/scitex/scitex-cloud/pkg/model"
	"github.com/scitex/scitex-cloud/pkg/slurm"
	"github.com/scitex/scitex-cloud/pkg/tasks"
)

// Refresh asks the job's backend for its state and persists any change.
// Terminal jobs are left alone.
func (s *Service) Refresh(ctx context.Context, job *model.Job) error {
	if job.IsTerminal() {
		return nil
	}

	var changed bool
	switch job.Backend {
	case model.BackendSlurm:
		sl, _ := s.current()
		status, err := sl.GetJobStatus(ctx, job.SlurmJobID)
		if err != nil {
			if errors.Is(err, slurm.ErrJobNotFound) {
				s.log.WithField("job_id", job.ID).Warn("slurm no longer knows the job")
				return nil
			}
			return err
		}
		changed = s.applySlurmStatus(job, status)

	case model.BackendTask:
		res, err := s.tasks.Result(ctx, job.TaskID)
		if err != nil {
			if errors.Is(err, tasks.ErrResultNotFound) {
				s.log.WithField("job_id", job.ID).Warn("task result expired")
				return nil
			}
			return err
		}
		changed = s.applyTaskResult(job, res)
	}

	if !changed {
		return nil
	}
	return s.jobs.UpdateJob(ctx, job)
}

func (s *Service) applySlurmStatus(job *model.Job, st *slurm.JobStatus) bool {
	if slurm.IsTerminal(st.State) {
		code := st.ExitCode
		if st.State != slurm.StateCancelled {
			s.ensureStarted(job)
		}
		s.finish(job, st.State, st.Reason, &code)
		return true
	}
	return s.advance(job, st.State, st.Reason)
}

// applyTaskResult maps task states onto job states:
// PENDING/RETRY -> PENDING, STARTED -> RUNNING, SUCCESS -> COMPLETED or
// FAILED by exit code, FAILURE -> FAILED, REVOKED -> CANCELLED.
func (s *Service) applyTaskResult(job *model.Job, res *tasks.Result) bool {
	switch res.State {
	case tasks.StatePending, tasks.StateRetry:
		return s.advance(job, slurm.StatePending, res.Error)
	case tasks.StateStarted:
		return s.advance(job, slurm.StateRunning, "")
	case tasks.StateRevoked:
		s.finish(job, slurm.StateCancelled, "revoked", nil)
		return true
	case tasks.StateFailure:
		s.ensureStarted(job)
		s.finish(job, slurm.StateFailed, res.Error, nil)
		return true
	case tasks.StateSuccess:
		var out RunScriptResult
		if len(res.Result) > 0 {
			if err := json.Unmarshal(res.Result, &out); err != nil {
				s.ensureStarted(job)
				s.finish(job, slurm.StateFailed, "unreadable task result", nil)
				return true
			}
		}
		s.ensureStarted(job)
		code := out.ExitCode
		switch {
		case out.TimedOut:
			s.finish(job, slurm.StateTimeout, "time limit reached", &code)
		case code != 0:
			s.finish(job, slurm.StateFailed, "", &code)
		default:
			s.finish(job, slurm.StateCompleted, "", &code)
		}
		return true
	}
	return false
}

// advance moves a job to a non-terminal state, stamping StartedAt on the
// first transition to RUNNING.
func (s *Service) advance(job *model.Job, state, reason string) bool {
	if job.State == state && job.Reason == reason {
		return false
	}
	job.State = state
	job.Reason = reason
	if state == slurm.StateRunning {
		s.ensureStarted(job)
	}
	return true
}

func (s *Service) ensureStarted(job *model.Job) {
	if job.StartedAt == nil {
		now := s.now().UTC()
		job.StartedAt = &now
	}
}

func (s *Service) finish(job *model.Job, state, reason string, exitCode *int) {
	job.State = state
	job.Reason = reason
	if exitCode != nil {
		job.ExitCode = exitCode
	}
	if job.FinishedAt == nil {
		now := s.now().UTC()
		job.FinishedAt = &now
	}
}

// Duration returns how long the job ran, or has been running.
func Duration(job *model.Job, now time.Time) time.Duration {
	if job.StartedAt == nil {
		return 0
	}
	end := now
	if job.FinishedAt != nil {
		end = *job.FinishedAt
	}
	return end.Sub(*job.StartedAt)
}
