package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var jobOutputCmd = &cobra.Command{
	Use:   "output <job-id>",
	Short: "Print the output of a job",
	Long: `Print the output of a job.

The job's stdout is written to STDOUT and its stderr to STDERR. Long output
is cut to its tail by the server.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newAPIClient()
		exitOnError("Failed to get job output", err)

		var out struct {
			JobID     string `json:"job_id"`
			Stdout    string `json:"stdout"`
			Stderr    string `json:"stderr"`
			Truncated bool   `json:"truncated"`
		}
		exitOnError("Failed to get job output", c.do(cmd.Context(), http.MethodGet, "/code/api/jobs/"+args[0]+"/output/", nil, &out))
		if jsonOutput(cmd) {
			printJSON(out)
			return
		}
		if out.Truncated {
			fmt.Fprintln(os.Stderr, "[output truncated]")
		}
		fmt.Fprint(os.Stdout, out.Stdout)
		fmt.Fprint(os.Stderr, out.Stderr)
	},
}

func init() {
	jobCmd.AddCommand(jobOutputCmd)
}
