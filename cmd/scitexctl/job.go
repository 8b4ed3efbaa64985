package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scitex/scitex-cloud/pkg/slurm"
)

// jobRecord is the part of a job the client prints.
type jobRecord struct {
	JobID          string     `json:"job_id"`
	Name           string     `json:"name"`
	Backend        string     `json:"backend"`
	State          string     `json:"state"`
	Reason         string     `json:"reason,omitempty"`
	SlurmJobID     string     `json:"slurm_job_id,omitempty"`
	TaskID         string     `json:"task_id,omitempty"`
	Queue          string     `json:"queue,omitempty"`
	Partition      string     `json:"partition,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds,omitempty"`
}

func (j jobRecord) terminal() bool {
	return slurm.IsTerminal(j.State)
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect jobs on the gateway",
	Long: `Submit and inspect jobs on the gateway.

The job commands talk to the server given by --server or SCITEX_SERVER and
authenticate with SCITEX_TOKEN or the API key from --api-key or SCITEX_API_KEY.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'job' requires a subcommand (submit, status, cancel, output, queue)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.PersistentFlags().StringP("output", "o", "text", "Output format (text or json)")
}

func jsonOutput(cmd *cobra.Command) bool {
	out, _ := cmd.Flags().GetString("output")
	return out == "json"
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	exitOnError("Failed to encode output", err)
	fmt.Println(string(data))
}
