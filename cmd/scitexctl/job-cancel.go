package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long: `Cancel a job.

SLURM jobs are cancelled with scancel. Jobs on the task workers can only be
cancelled while they wait in the queue.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newAPIClient()
		exitOnError("Failed to cancel job", err)

		var res struct {
			JobID string `json:"job_id"`
			State string `json:"state"`
		}
		exitOnError("Failed to cancel job", c.do(cmd.Context(), http.MethodPost, "/code/api/jobs/"+args[0]+"/cancel/", nil, &res))
		if jsonOutput(cmd) {
			printJSON(res)
			return
		}
		fmt.Fprintf(os.Stderr, "Job %s is %s\n", res.JobID, res.State)
	},
}

func init() {
	jobCmd.AddCommand(jobCancelCmd)
}
