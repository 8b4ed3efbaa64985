package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"github.com/scitex/scitex-cloud/pkg/model"
)

// intFields are the submit fields sent as JSON numbers.
var intFields = map[string]bool{"cpus": true, "memory_gb": true}

// Job steps

// submitsTheJob posts a submission built from a two column table of
// field/value rows. container_path and project_id default to the harness
// container and the scenario's project.
func (s *StepsContext) submitsTheJob(alias string, table *godog.Table) error {
	auth, err := s.bearer(alias)
	if err != nil {
		return err
	}
	body := map[string]any{"container_path": "python.sif"}
	if s.projectID != "" {
		body["project_id"] = s.projectID
	}
	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return fmt.Errorf("submit table rows need a field and a value")
		}
		field, value := row.Cells[0].Value, row.Cells[1].Value
		if intFields[field] {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
			body[field] = n
			continue
		}
		body[field] = value
	}

	if err := s.request(http.MethodPost, "/code/api/jobs/submit/", auth, body); err != nil {
		return err
	}
	if s.response.StatusCode != http.StatusOK {
		return nil
	}
	var sub struct {
		JobID      string `json:"job_id"`
		SlurmJobID string `json:"slurm_job_id"`
	}
	if err := json.Unmarshal(s.responseBody, &sub); err != nil {
		return fmt.Errorf("failed to parse submission: %w", err)
	}
	s.jobID, s.slurmJobID = sub.JobID, sub.SlurmJobID
	return nil
}

func (s *StepsContext) cancelsTheJob(alias string) error {
	auth, err := s.bearer(alias)
	if err != nil {
		return err
	}
	return s.request(http.MethodPost, "/code/api/jobs/"+s.jobID+"/cancel/", auth, nil)
}

// jobStatus fetches the job through the status endpoint as the last user
// that acted in the scenario.
func (s *StepsContext) jobStatus() (*model.Job, error) {
	auth, err := s.bearer(s.actor)
	if err != nil {
		return nil, err
	}
	if err := s.request(http.MethodGet, "/code/api/jobs/"+s.jobID+"/status/", auth, nil); err != nil {
		return nil, err
	}
	if err := s.theResponseStatusShouldBe(http.StatusOK); err != nil {
		return nil, err
	}
	var job model.Job
	if err := json.Unmarshal(s.responseBody, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return &job, nil
}

func (s *StepsContext) theJobStatusShouldBe(state string) error {
	job, err := s.jobStatus()
	if err != nil {
		return err
	}
	if job.State != state {
		return fmt.Errorf("expected job state %s, got %s (%s)", state, job.State, job.Reason)
	}
	return nil
}

func (s *StepsContext) theJobShouldEventuallyBe(state string) error {
	return eventually(func() error { return s.theJobStatusShouldBe(state) })
}

func (s *StepsContext) theJobReasonShouldBe(reason string) error {
	job, err := s.jobStatus()
	if err != nil {
		return err
	}
	if job.Reason != reason {
		return fmt.Errorf("expected reason %q, got %q", reason, job.Reason)
	}
	return nil
}

func (s *StepsContext) theJobExitCodeShouldBe(code int) error {
	job, err := s.jobStatus()
	if err != nil {
		return err
	}
	if job.ExitCode == nil || *job.ExitCode != code {
		return fmt.Errorf("expected exit code %d, got %v", code, job.ExitCode)
	}
	return nil
}

func (s *StepsContext) theJobOutputShouldContain(text string) error {
	auth, err := s.bearer(s.actor)
	if err != nil {
		return err
	}
	if err := s.request(http.MethodGet, "/code/api/jobs/"+s.jobID+"/output/", auth, nil); err != nil {
		return err
	}
	if err := s.theResponseStatusShouldBe(http.StatusOK); err != nil {
		return err
	}
	var out struct {
		Stdout string `json:"stdout"`
	}
	if err := json.Unmarshal(s.responseBody, &out); err != nil {
		return fmt.Errorf("failed to parse output: %w", err)
	}
	if !strings.Contains(out.Stdout, text) {
		return fmt.Errorf("stdout %q does not contain %q", out.Stdout, text)
	}
	return nil
}

func (s *StepsContext) shouldHaveJobsInTheQueue(alias string, count int) error {
	auth, err := s.bearer(alias)
	if err != nil {
		return err
	}
	if err := s.request(http.MethodGet, "/code/api/jobs/queue/", auth, nil); err != nil {
		return err
	}
	if err := s.theResponseStatusShouldBe(http.StatusOK); err != nil {
		return err
	}
	var queue struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(s.responseBody, &queue); err != nil {
		return fmt.Errorf("failed to parse queue: %w", err)
	}
	if queue.Count != count {
		return fmt.Errorf("expected %d queued jobs, got %d", count, queue.Count)
	}
	return nil
}

func (s *StepsContext) theStoredJobShouldBeWithAFinishTime(state string) error {
	id, err := uuid.Parse(s.jobID)
	if err != nil {
		return err
	}
	stored, err := s.tc.Jobs.GetJob(s.ctx, id)
	if err != nil {
		return err
	}
	if stored.State != state {
		return fmt.Errorf("expected stored state %s, got %s", state, stored.State)
	}
	if stored.FinishedAt == nil {
		return fmt.Errorf("stored job has no finish time")
	}
	return nil
}

// Cluster steps

func (s *StepsContext) theClusterRejectsSubmissionsWith(stderr string) error {
	s.tc.Cluster.RejectSubmissions(stderr)
	return nil
}

func (s *StepsContext) theClusterFinishesTheJobAs(state, exit string) error {
	if s.slurmJobID == "" {
		return fmt.Errorf("no slurm job has been submitted")
	}
	s.sacctCalls = s.tc.Cluster.Calls("sacct")
	return s.tc.Cluster.Finish(s.slurmJobID, state, exit)
}

func (s *StepsContext) theClusterShouldHoldTheJobAs(state string) error {
	if got := s.tc.Cluster.State(s.slurmJobID); got != state {
		return fmt.Errorf("expected cluster state %s, got %s", state, got)
	}
	return nil
}

func (s *StepsContext) sbatchShouldNotHaveBeenRun() error {
	if n := s.tc.Cluster.Calls("sbatch") - s.sbatchCalls; n != 0 {
		return fmt.Errorf("sbatch ran %d times", n)
	}
	return nil
}

func (s *StepsContext) theJobStatusShouldHaveBeenReadFromAccounting() error {
	if s.tc.Cluster.Calls("sacct") <= s.sacctCalls {
		return fmt.Errorf("sacct was not queried after the job left the queue")
	}
	return nil
}
