package slurm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTimeLimit is returned for time limits sbatch would reject.
	ErrInvalidTimeLimit = errors.New("invalid time limit")
	// ErrInvalidRequest is returned when a submission fails validation.
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrUnknownPartition is returned for partitions missing from the configuration.
	ErrUnknownPartition = errors.New("unknown partition")
	// ErrContainerNotFound is returned when the container image does not exist.
	ErrContainerNotFound = errors.New("container image not found")
	// ErrScriptNotFound is returned when the script does not exist in the workspace.
	ErrScriptNotFound = errors.New("script not found")
	// ErrQuotaExceeded is returned when the submit limit for a user is reached.
	ErrQuotaExceeded = errors.New("job quota exceeded")
	// ErrJobNotFound is returned when neither squeue nor sacct know the job.
	ErrJobNotFound = errors.New("job not found")
	// ErrOutputNotFound is returned when the job has not written its output file yet.
	ErrOutputNotFound = errors.New("job output not found")
)

// CommandError carries the exit status and stderr of a failed SLURM command.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no output"
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, msg)
}

// quotaMarkers are the reason strings slurmctld uses when rejecting a
// submission because of a per-user submit limit.
var quotaMarkers = []string{
	"QOSMaxSubmitJobPerUserLimit",
	"AssocMaxSubmitJobLimit",
	"MaxSubmitJobs",
	"Job violates accounting/QOS policy",
}

func isQuotaError(stderr string) bool {
	for _, m := range quotaMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}
