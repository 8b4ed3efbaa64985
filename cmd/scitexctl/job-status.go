package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newAPIClient()
		exitOnError("Failed to get job status", err)

		var job jobRecord
		exitOnError("Failed to get job status", c.do(cmd.Context(), http.MethodGet, "/code/api/jobs/"+args[0]+"/status/", nil, &job))
		printJob(cmd, job)
	},
}

func init() {
	jobCmd.AddCommand(jobStatusCmd)
}

func printJob(cmd *cobra.Command, job jobRecord) {
	if jsonOutput(cmd) {
		printJSON(job)
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	row := func(k, v string) {
		if v != "" {
			_, _ = fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	row("Job", job.JobID)
	row("Name", job.Name)
	row("State", job.State)
	row("Reason", job.Reason)
	row("Backend", job.Backend)
	row("SLURM job", job.SlurmJobID)
	row("Partition", job.Partition)
	row("Task", job.TaskID)
	row("Queue", job.Queue)
	if job.ExitCode != nil {
		row("Exit code", fmt.Sprint(*job.ExitCode))
	}
	row("Submitted", job.SubmittedAt.Local().Format(time.RFC3339))
	if job.ElapsedSeconds > 0 {
		row("Elapsed", (time.Duration(job.ElapsedSeconds) * time.Second).String())
	}
}
