package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List your unfinished jobs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newAPIClient()
		exitOnError("Failed to list jobs", err)

		var res struct {
			Count int         `json:"count"`
			Jobs  []jobRecord `json:"jobs"`
		}
		exitOnError("Failed to list jobs", c.do(cmd.Context(), http.MethodGet, "/code/api/jobs/queue/", nil, &res))
		if jsonOutput(cmd) {
			printJSON(res.Jobs)
			return
		}
		printQueue(os.Stdout, res.Jobs)
	},
}

func init() {
	jobCmd.AddCommand(jobQueueCmd)
}

func printQueue(out io.Writer, jobs []jobRecord) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "JOB\tNAME\tBACKEND\tSTATE\tREASON")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.JobID, orDash(j.Name), j.Backend, j.State, orDash(j.Reason))
	}
}
