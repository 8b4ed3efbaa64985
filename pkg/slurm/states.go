package slurm

// Job states as reported by squeue and sacct. The set is SLURM's; only the
// ones the gateway reasons about are named here.
const (
	StatePending     = "PENDING"
	StateRunning     = "RUNNING"
	StateCompleting  = "COMPLETING"
	StateCompleted   = "COMPLETED"
	StateFailed      = "FAILED"
	StateCancelled   = "CANCELLED"
	StateTimeout     = "TIMEOUT"
	StateOutOfMemory = "OUT_OF_MEMORY"
	StateNodeFail    = "NODE_FAIL"
	StatePreempted   = "PREEMPTED"
	StateBootFail    = "BOOT_FAIL"
	StateDeadline    = "DEADLINE"
	StateSuspended   = "SUSPENDED"
)

var terminalStates = []string{
	StateCompleted, StateFailed, StateCancelled, StateTimeout,
	StateOutOfMemory, StateNodeFail, StatePreempted, StateBootFail, StateDeadline,
}

// IsTerminal reports whether a job in state will never run again.
func IsTerminal(state string) bool {
	for _, s := range terminalStates {
		if s == state {
			return true
		}
	}
	return false
}

// TerminalStates returns the states IsTerminal accepts.
func TerminalStates() []string {
	return append([]string(nil), terminalStates...)
}
