package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/jobs"
	"github.com/scitex/scitex-cloud/pkg/loop"
)

// submitResponse mirrors the body of POST /code/api/jobs/submit/.
type submitResponse struct {
	JobID      string `json:"job_id"`
	Backend    string `json:"backend"`
	State      string `json:"state"`
	SlurmJobID string `json:"slurm_job_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	Queue      string `json:"queue,omitempty"`
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a script run",
	Long: `Submit a script run.

Small runs go to the light compute workers, larger ones to SLURM. Use
--backend to force one of them.

Example:
  scitexctl job submit --script analysis.sh --project 4f1c...
  scitexctl job submit --script train.py --container pytorch.sif --cpus 8 --mem 32 --time 04:00:00
  scitexctl job submit --script quick.sh --workspace /var/lib/scitex/workspaces/alice/paper --wait`,
	Run: func(cmd *cobra.Command, args []string) {
		var req jobs.SubmitRequest
		req.ScriptPath, _ = cmd.Flags().GetString("script")
		req.ContainerPath, _ = cmd.Flags().GetString("container")
		req.Workspace, _ = cmd.Flags().GetString("workspace")
		req.ProjectID, _ = cmd.Flags().GetString("project")
		req.JobName, _ = cmd.Flags().GetString("name")
		req.Partition, _ = cmd.Flags().GetString("partition")
		req.CPUs, _ = cmd.Flags().GetInt("cpus")
		req.MemoryGB, _ = cmd.Flags().GetInt("mem")
		req.TimeLimit, _ = cmd.Flags().GetString("time")
		req.Backend, _ = cmd.Flags().GetString("backend")
		wait, _ := cmd.Flags().GetBool("wait")
		every, _ := cmd.Flags().GetDuration("poll")

		c, err := newAPIClient()
		exitOnError("Failed to submit job", err)

		var sub submitResponse
		exitOnError("Failed to submit job", c.do(cmd.Context(), http.MethodPost, "/code/api/jobs/submit/", req, &sub))
		if !wait {
			if jsonOutput(cmd) {
				printJSON(sub)
				return
			}
			fmt.Fprintf(os.Stderr, "Submitted job to %s (%s)\n", sub.Backend, backendID(sub))
			fmt.Println(sub.JobID)
			return
		}

		fmt.Fprintf(os.Stderr, "Submitted job %s to %s, waiting...\n", sub.JobID, sub.Backend)
		job, err := waitForJob(cmd.Context(), c, sub.JobID, every)
		exitOnError("Failed to wait for job", err)
		printJob(cmd, job)
		if job.State != "COMPLETED" {
			os.Exit(2)
		}
	},
}

func init() {
	jobCmd.AddCommand(jobSubmitCmd)
	f := jobSubmitCmd.Flags()
	f.StringP("script", "s", "", "script to run, relative to the workspace")
	f.String("container", "", "Apptainer image, a path or a name in the container directory")
	f.StringP("workspace", "w", "", "workspace directory")
	f.String("project", "", "project id; its workspace is used when --workspace is not given")
	f.StringP("name", "n", "", "job name")
	f.StringP("partition", "p", "", "SLURM partition, sends the job to SLURM")
	f.Int("cpus", 0, "CPUs")
	f.Int("mem", 0, "memory in GB")
	f.StringP("time", "t", "", "time limit, [D-]HH:MM:SS or minutes")
	f.String("backend", "", "force the backend, slurm or task")
	f.Bool("wait", false, "wait until the job has finished")
	f.Duration("poll", 5*time.Second, "status poll interval with --wait")
	_ = jobSubmitCmd.MarkFlagRequired("script")
}

func backendID(sub submitResponse) string {
	if sub.SlurmJobID != "" {
		return "slurm job " + sub.SlurmJobID
	}
	return "task " + sub.TaskID + " on " + sub.Queue
}

// waitForJob polls the job status until it reaches a final state.
func waitForJob(ctx context.Context, c *apiClient, jobID string, every time.Duration) (jobRecord, error) {
	return loop.Start(ctx, jobRecord{}, func(ctx context.Context, _ jobRecord) (jobRecord, loop.Next) {
		var job jobRecord
		if err := c.do(ctx, http.MethodGet, "/code/api/jobs/"+jobID+"/status/", nil, &job); err != nil {
			return job, loop.Break(err)
		}
		if job.terminal() {
			return job, loop.Break(nil)
		}
		return job, loop.Continue(every)
	})
}
