package slurm

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// squeueFormat is the column layout requested from squeue; parseQueue relies on it.
const squeueFormat = "%i|%j|%T|%P|%M|%l|%R|%k"

// sacctFormat is the column layout requested from sacct.
const sacctFormat = "JobID,JobName,State,ExitCode,Elapsed,NodeList"

var jobIDPattern = regexp.MustCompile(`^[0-9]+(_[0-9]+)?$`)

// QueueEntry is one row of squeue output.
type QueueEntry struct {
	JobID     string `json:"job_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Partition string `json:"partition"`
	Elapsed   string `json:"elapsed"`
	TimeLimit string `json:"time_limit"`
	// Reason holds the pending reason, or the node list once running.
	Reason  string `json:"reason"`
	Comment string `json:"-"`
}

// UserID returns the SciTeX user recorded in the job comment.
func (e QueueEntry) UserID() string {
	return userFromComment(e.Comment)
}

// parseSbatch parses "jobid" or "jobid;cluster" as printed by sbatch --parsable.
func parseSbatch(out []byte) (jobID, cluster string, err error) {
	line := strings.TrimSpace(string(out))
	if i := strings.LastIndex(line, "\n"); i >= 0 {
		line = strings.TrimSpace(line[i+1:])
	}
	jobID, cluster, _ = strings.Cut(line, ";")
	if !jobIDPattern.MatchString(jobID) {
		return "", "", fmt.Errorf("unexpected sbatch output %q", line)
	}
	return jobID, cluster, nil
}

func parseQueue(out []byte) ([]QueueEntry, error) {
	var entries []QueueEntry
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cols := strings.SplitN(line, "|", 8)
		if len(cols) != 8 {
			return nil, fmt.Errorf("unexpected squeue line %q", line)
		}
		entries = append(entries, QueueEntry{
			JobID:     cols[0],
			Name:      cols[1],
			State:     normalizeState(cols[2]),
			Partition: cols[3],
			Elapsed:   cols[4],
			TimeLimit: cols[5],
			Reason:    strings.Trim(cols[6], "()"),
			Comment:   cols[7],
		})
	}
	return entries, sc.Err()
}

// parseAccounting picks the allocation line for jobID out of sacct
// --parsable2 output, skipping the .batch/.extern/.N step lines.
func parseAccounting(out []byte, jobID string) (*JobStatus, bool, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cols := strings.Split(line, "|")
		if len(cols) < 6 {
			return nil, false, fmt.Errorf("unexpected sacct line %q", line)
		}
		if cols[0] != jobID {
			continue
		}
		return &JobStatus{
			JobID:    cols[0],
			Name:     cols[1],
			State:    normalizeState(cols[2]),
			ExitCode: parseExitCode(cols[3]),
			Elapsed:  cols[4],
			NodeList: cols[5],
			Source:   "sacct",
		}, true, nil
	}
	return nil, false, sc.Err()
}

// normalizeState strips sacct decorations such as "CANCELLED by 1000" or "CANCELLED+".
func normalizeState(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, "+")
}

// parseExitCode returns the exit status part of sacct's "status:signal".
func parseExitCode(s string) int {
	code, _, _ := strings.Cut(s, ":")
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}

const commentPrefix = "scitex:user="

func userComment(userID string) string {
	return commentPrefix + userID
}

func userFromComment(comment string) string {
	if !strings.HasPrefix(comment, commentPrefix) {
		return ""
	}
	return strings.TrimPrefix(comment, commentPrefix)
}
